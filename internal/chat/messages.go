package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"league-chat/internal/models"
	"league-chat/internal/observability"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
)

const (
	storeConsumer   = "store"
	replySnippetMax = 80
	// storeWriteTimeout bounds a write that outlives the request that
	// started it.
	storeWriteTimeout = 10 * time.Second
	// DefaultPageSize is the number of messages fetched per backward page.
	DefaultPageSize = 50
)

var tracer = otel.Tracer("league-chat/chat")

// SendHooks are called after a send settles.
type SendHooks struct {
	OnSent   func(models.Message)
	OnFailed func(models.Message, error)
}

// MessageStore is the ordered log of one open league view. It merges
// backward pages, realtime inserts and optimistic sends into a single list
// without duplicates, ordered by (created_at, id).
type MessageStore struct {
	leagueID string
	session  Session
	repo     repositories.MessageRepository
	manager  *realtime.Manager
	pageSize int
	hooks    SendHooks
	now      func() time.Time

	mu        sync.Mutex
	messages  []models.Message
	ids       map[string]struct{}
	pending   map[string]string
	cursor    *models.Cursor
	hasMore   bool
	sub       *realtime.Subscription
	listeners []func([]models.Message)
	remote    []func(models.Message)
}

// NewMessageStore creates an empty log for leagueID.
func NewMessageStore(leagueID string, session Session, repo repositories.MessageRepository, manager *realtime.Manager, pageSize int, hooks SendHooks) *MessageStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &MessageStore{
		leagueID: leagueID,
		session:  session,
		repo:     repo,
		manager:  manager,
		pageSize: pageSize,
		hooks:    hooks,
		now:      time.Now,
		ids:      make(map[string]struct{}),
		pending:  make(map[string]string),
		hasMore:  true,
	}
}

// LeagueID returns the league this log belongs to.
func (s *MessageStore) LeagueID() string {
	return s.leagueID
}

// Subscribe starts receiving realtime inserts for the league.
func (s *MessageStore) Subscribe() error {
	sub, err := s.manager.Subscribe(storeConsumer, realtime.Eq(realtime.TableMessages, "league_id", s.leagueID, realtime.OpInsert), s.handle)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Close stops realtime delivery.
func (s *MessageStore) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	sub.Close()
}

// LoadOlder fetches the page preceding the oldest loaded message. The first
// call fetches the newest page.
func (s *MessageStore) LoadOlder(ctx context.Context) (models.Page, error) {
	ctx, span := tracer.Start(ctx, "MessageStore.LoadOlder")
	defer span.End()
	span.SetAttributes(attribute.String("league_id", s.leagueID))

	s.mu.Lock()
	cursor := copyCursor(s.cursor)
	s.mu.Unlock()

	rows, err := s.repo.ListBefore(ctx, s.leagueID, cursor, s.pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return models.Page{}, transportError("load messages", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	s.hydrateReplies(ctx, rows)

	s.mu.Lock()
	added := 0
	for _, m := range rows {
		if s.insertLocked(m) {
			added++
		}
	}
	if len(rows) > 0 {
		s.cursor = models.CursorOf(rows[0])
	}
	s.hasMore = len(rows) == s.pageSize
	page := models.Page{Messages: rows, Cursor: copyCursor(s.cursor), HasMore: s.hasMore}
	s.mu.Unlock()

	if added > 0 {
		s.emit()
	}
	return page, nil
}

// Send inserts an optimistic placeholder and persists the message. Transport
// failures do not return an error: the placeholder flips to StatusError and
// is returned.
func (s *MessageStore) Send(ctx context.Context, text string, replyToID *string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if !s.session.Valid() {
		return models.Message{}, ErrAuthUnavailable
	}

	token := uuid.NewString()
	optimistic := models.Message{
		ID:               models.OptimisticPrefix + uuid.NewString(),
		LeagueID:         s.leagueID,
		UserID:           s.session.UserID,
		Content:          text,
		CreatedAt:        s.now().UTC(),
		ReplyToMessageID: replyToID,
		ClientToken:      &token,
		Status:           models.StatusSending,
	}

	s.mu.Lock()
	if replyToID != nil {
		optimistic.Reply = s.replyRefLocked(*replyToID)
	}
	s.insertLocked(optimistic)
	s.pending[token] = optimistic.ID
	s.mu.Unlock()
	s.emit()

	return s.deliver(ctx, optimistic)
}

// Retry resends a failed message under a fresh placeholder.
func (s *MessageStore) Retry(ctx context.Context, messageID string) (models.Message, error) {
	s.mu.Lock()
	var failed *models.Message
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			m := s.messages[i]
			failed = &m
			break
		}
	}
	if failed == nil || failed.Status != models.StatusError {
		s.mu.Unlock()
		return models.Message{}, ErrNotRetryable
	}
	s.removeLocked(messageID)
	if failed.ClientToken != nil {
		delete(s.pending, *failed.ClientToken)
	}
	s.mu.Unlock()
	s.emit()

	return s.Send(ctx, failed.Content, failed.ReplyToMessageID)
}

// HandleRemoteInsert merges a persisted message delivered by the realtime
// feed. An insert carrying the client token of a pending send replaces its
// placeholder.
func (s *MessageStore) HandleRemoteInsert(m models.Message) {
	if m.LeagueID != s.leagueID {
		return
	}
	m.Status = models.StatusPersisted

	s.mu.Lock()
	if m.ReplyToMessageID != nil && m.Reply == nil {
		m.Reply = s.replyRefLocked(*m.ReplyToMessageID)
	}
	replaced := s.reconcileLocked(m)
	added := s.insertLocked(m)
	remote := append([]func(models.Message){}, s.remote...)
	s.mu.Unlock()

	if added || replaced {
		s.emit()
	}
	if added && !replaced && m.UserID != s.session.UserID {
		for _, fn := range remote {
			fn(m)
		}
	}
}

// Messages returns a copy of the log, ascending.
func (s *MessageStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

// HasMore reports whether older pages may exist.
func (s *MessageStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Newest returns the timestamp of the newest persisted message.
func (s *MessageStore) Newest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if !s.messages[i].IsOptimistic() {
			return s.messages[i].CreatedAt, true
		}
	}
	return time.Time{}, false
}

// PersistedIDs returns the ids of every server-confirmed message.
func (s *MessageStore) PersistedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.IsOptimistic() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// OnChange registers a callback invoked with the full log after each change.
func (s *MessageStore) OnChange(fn func([]models.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnRemoteMessage registers a callback for new messages from other users.
func (s *MessageStore) OnRemoteMessage(fn func(models.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = append(s.remote, fn)
}

func (s *MessageStore) deliver(ctx context.Context, optimistic models.Message) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageStore.Send")
	defer span.End()
	span.SetAttributes(attribute.String("league_id", s.leagueID))

	// The placeholder must settle even when the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	token := *optimistic.ClientToken
	saved, err := s.repo.CreateMessage(ctx, repositories.NewMessage{
		LeagueID:    s.leagueID,
		UserID:      s.session.UserID,
		Content:     optimistic.Content,
		ReplyToID:   optimistic.ReplyToMessageID,
		ClientToken: token,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		observability.IncMessageSend("error")
		log.Warn().Err(err).Str("league_id", s.leagueID).Msg("message send failed")

		failed := optimistic
		failed.Status = models.StatusError
		s.mu.Lock()
		// The realtime echo may already have replaced the placeholder.
		if _, ok := s.ids[optimistic.ID]; ok {
			s.removeLocked(optimistic.ID)
			s.insertLocked(failed)
		}
		s.mu.Unlock()
		s.emit()
		if s.hooks.OnFailed != nil {
			s.hooks.OnFailed(failed, err)
		}
		return failed, nil
	}

	saved.Status = models.StatusPersisted
	if saved.ClientToken == nil {
		saved.ClientToken = &token
	}
	s.mu.Lock()
	saved.Reply = optimistic.Reply
	s.reconcileLocked(saved)
	s.insertLocked(saved)
	s.mu.Unlock()
	s.emit()

	observability.IncMessageSend("ok")
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(saved)
	}
	return saved, nil
}

// reconcileLocked drops the placeholder of the pending send matching m's
// client token.
func (s *MessageStore) reconcileLocked(m models.Message) bool {
	if m.ClientToken == nil {
		return false
	}
	optimisticID, ok := s.pending[*m.ClientToken]
	if !ok {
		return false
	}
	delete(s.pending, *m.ClientToken)
	return s.removeLocked(optimisticID)
}

func (s *MessageStore) insertLocked(m models.Message) bool {
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	s.ids[m.ID] = struct{}{}
	i := sort.Search(len(s.messages), func(i int) bool { return m.Before(s.messages[i]) })
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
	return true
}

func (s *MessageStore) removeLocked(id string) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return true
}

func (s *MessageStore) replyRefLocked(id string) *models.ReplyRef {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return replyRef(s.messages[i])
		}
	}
	return nil
}

// hydrateReplies fills Reply for rows whose target is in the page, in the log
// or fetchable by id. Lookup failures leave Reply nil.
func (s *MessageStore) hydrateReplies(ctx context.Context, rows []models.Message) {
	byID := make(map[string]models.Message, len(rows))
	for _, m := range rows {
		byID[m.ID] = m
	}
	var missing []string
	s.mu.Lock()
	for _, m := range rows {
		if m.ReplyToMessageID == nil {
			continue
		}
		id := *m.ReplyToMessageID
		if _, ok := byID[id]; ok {
			continue
		}
		if ref := s.replyRefLocked(id); ref != nil {
			byID[id] = models.Message{ID: ref.ID, UserID: ref.AuthorID, Content: ref.Snippet}
			continue
		}
		missing = append(missing, id)
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		found, err := s.repo.ListByIDs(ctx, persistedIDs(missing))
		if err != nil {
			log.Debug().Err(err).Str("league_id", s.leagueID).Msg("reply lookup failed")
		}
		for _, m := range found {
			byID[m.ID] = m
		}
	}
	for i := range rows {
		if rows[i].ReplyToMessageID == nil {
			continue
		}
		if target, ok := byID[*rows[i].ReplyToMessageID]; ok {
			rows[i].Reply = replyRef(target)
		}
	}
}

func (s *MessageStore) handle(c realtime.Change) {
	ev, err := realtime.Decode(c, realtime.ParseMessage)
	if err != nil {
		log.Debug().Err(err).Msg("drop malformed message change")
		return
	}
	switch e := ev.(type) {
	case realtime.Inserted[models.Message]:
		if c.Partial {
			go s.fetchInsert(e.Row.ID)
			return
		}
		s.HandleRemoteInsert(e.Row)
	case realtime.Resync[models.Message]:
		go s.catchUp()
	}
}

// fetchInsert re-reads a message whose notification came without content.
func (s *MessageStore) fetchInsert(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.repo.ListByIDs(ctx, []string{id})
	if err != nil {
		log.Warn().Err(err).Str("message_id", id).Msg("message fetch failed")
		return
	}
	s.hydrateReplies(ctx, rows)
	for _, m := range rows {
		s.HandleRemoteInsert(m)
	}
}

// catchUp merges the newest page after the feed reconnected.
func (s *MessageStore) catchUp() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := s.repo.ListBefore(ctx, s.leagueID, nil, s.pageSize)
	if err != nil {
		log.Warn().Err(err).Str("league_id", s.leagueID).Msg("message resync failed")
		return
	}
	for i := len(rows) - 1; i >= 0; i-- {
		s.HandleRemoteInsert(rows[i])
	}
}

func (s *MessageStore) emit() {
	s.mu.Lock()
	snapshot := append([]models.Message(nil), s.messages...)
	listeners := append([]func([]models.Message){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func replyRef(target models.Message) *models.ReplyRef {
	return &models.ReplyRef{ID: target.ID, Snippet: snippet(target.Content), AuthorID: target.UserID}
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= replySnippetMax {
		return s
	}
	return string(r[:replySnippetMax])
}

func copyCursor(c *models.Cursor) *models.Cursor {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
