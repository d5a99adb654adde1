package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"league-chat/internal/models"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
	"league-chat/internal/telemetry"
)

// ErrNotMember is returned when opening a league the user does not belong to.
var ErrNotMember = errors.New("user is not a member of the league")

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultReadDebounce      = 1500 * time.Millisecond
	afterSendTimeout         = 5 * time.Second
	roomTrackTimeout         = 10 * time.Second
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Session   Session
	Messages  repositories.MessageRepository
	Reads     repositories.ReadRepository
	Reactions repositories.ReactionRepository
	Presence  repositories.PresenceRepository
	Members   repositories.MemberRepository
	Manager   *realtime.Manager
	Cache     PreviewCache
	Notifier  *PushNotifier
	Emitter   *telemetry.ChatEmitter
}

// Options tune an Engine.
type Options struct {
	PageSize          int
	HeartbeatInterval time.Duration
	ReadDebounce      time.Duration
	RecomputeDelay    time.Duration
	SystemSenderID    string
	BatchMinLeagues   int
}

// Room is one open league view.
type Room struct {
	LeagueID  string
	Store     *MessageStore
	Reactions *ReactionStore

	presence *Heartbeat
}

// View returns the log with reactions attached.
func (r *Room) View() []models.MessageView {
	msgs := r.Store.Messages()
	out := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := models.MessageView{Message: m}
		if !m.IsOptimistic() {
			v.Reactions = r.Reactions.Summaries(m.ID)
		}
		out = append(out, v)
	}
	return out
}

func (r *Room) close() {
	r.presence.Stop()
	r.Store.Close()
	r.Reactions.Close()
}

// Engine is the application root: one per process, owning the unread
// aggregator, the inbox updater, the read tracker and every open room. Each
// room keeps its own presence heartbeat.
type Engine struct {
	deps Deps
	opts Options

	unread   *UnreadAggregator
	inbox    *InboxUpdater
	receipts *ReadTracker

	mu         sync.Mutex
	rooms      map[string]*Room
	foreground bool
	roomFns    []func(models.RoomEvent)
}

// NewEngine builds the engine and its singletons.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReadDebounce <= 0 {
		opts.ReadDebounce = DefaultReadDebounce
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if deps.Cache == nil {
		deps.Cache = NewMemoryPreviewCache()
	}

	e := &Engine{
		deps:       deps,
		opts:       opts,
		rooms:      make(map[string]*Room),
		foreground: true,
	}
	e.unread = NewUnreadAggregator(deps.Session.UserID, deps.Messages, deps.Reads, deps.Members, deps.Manager, UnreadOptions{
		SystemSenderID:  opts.SystemSenderID,
		BatchMinLeagues: opts.BatchMinLeagues,
		RecomputeDelay:  opts.RecomputeDelay,
	})
	e.inbox = NewInboxUpdater(deps.Cache, deps.Messages, deps.Manager)
	e.receipts = NewReadTracker(deps.Reads, opts.ReadDebounce)
	e.receipts.OnWrite(e.unread.HandleReadChanged)
	e.receipts.OnWrite(func(r models.ReadReceipt) {
		e.deps.Emitter.Emit(context.Background(), "read_marked", r.LeagueID, r.UserID, map[string]string{
			"last_read_at": models.PreviewKey(r.LastReadAt),
		})
	})
	e.unread.OnRecompute(e.syncMemberships)
	return e
}

// Start loads memberships, seeds the inbox and runs the first unread count.
func (e *Engine) Start(ctx context.Context) error {
	if !e.deps.Session.Valid() {
		return ErrAuthUnavailable
	}
	ctx, span := tracer.Start(ctx, "Engine.Start")
	defer span.End()

	leagues, err := e.deps.Members.ListLeagueIDs(ctx, e.deps.Session.UserID)
	if err != nil {
		return transportError("list leagues", err)
	}
	if err := e.inbox.Seed(ctx, leagues); err != nil {
		return err
	}
	if err := e.unread.Start(leagues); err != nil {
		return err
	}
	if err := e.unread.Recompute(ctx); err != nil {
		return err
	}
	log.Info().Str("user_id", e.deps.Session.UserID).Int("leagues", len(leagues)).Msg("chat engine started")
	return nil
}

// OpenLeague opens, or returns the already open, view of a league.
func (e *Engine) OpenLeague(ctx context.Context, leagueID string) (*Room, error) {
	if room, ok := e.Room(leagueID); ok {
		return room, nil
	}
	if !e.deps.Session.Valid() {
		return nil, ErrAuthUnavailable
	}
	ctx, span := tracer.Start(ctx, "Engine.OpenLeague")
	defer span.End()

	member, err := e.deps.Members.IsMember(ctx, leagueID, e.deps.Session.UserID)
	if err != nil {
		return nil, transportError("check membership", err)
	}
	if !member {
		return nil, ErrNotMember
	}

	store := NewMessageStore(leagueID, e.deps.Session, e.deps.Messages, e.deps.Manager, e.opts.PageSize, SendHooks{
		OnSent:   e.afterSend,
		OnFailed: e.afterFailure,
	})
	room := &Room{
		LeagueID:  leagueID,
		Store:     store,
		Reactions: NewReactionStore(e.deps.Reactions, e.deps.Manager, e.deps.Session.UserID),
		presence:  NewHeartbeat(e.deps.Presence, e.deps.Session.UserID, e.opts.HeartbeatInterval),
	}
	if err := store.Subscribe(); err != nil {
		if errors.Is(err, realtime.ErrDuplicateSubscription) {
			if existing, ok := e.Room(leagueID); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	if _, err := store.LoadOlder(ctx); err != nil {
		room.close()
		return nil, err
	}
	if err := room.Reactions.Track(ctx, store.PersistedIDs()); err != nil {
		log.Warn().Err(err).Str("league_id", leagueID).Msg("reaction load failed")
	}

	store.OnChange(func(msgs []models.Message) {
		e.publishRoom(models.RoomEvent{Type: "messages", LeagueID: leagueID, Messages: msgs})
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), roomTrackTimeout)
			defer cancel()
			if err := room.Reactions.Track(ctx, store.PersistedIDs()); err != nil {
				log.Warn().Err(err).Str("league_id", leagueID).Msg("reaction tracking failed")
			}
		}()
	})
	room.Reactions.OnChange(func(string) {
		e.publishRoom(models.RoomEvent{Type: "reactions", LeagueID: leagueID})
	})
	store.OnRemoteMessage(func(m models.Message) {
		if !e.isForeground() {
			return
		}
		at := m.CreatedAt
		if err := e.receipts.MarkAsRead(leagueID, e.deps.Session.UserID, &at); err != nil {
			log.Debug().Err(err).Msg("mark read failed")
		}
		e.unread.ClearLeague(leagueID)
	})

	e.mu.Lock()
	e.rooms[leagueID] = room
	room.presence.SetForeground(e.foreground)
	e.mu.Unlock()

	room.presence.Enter(leagueID)
	e.unread.ClearLeague(leagueID)
	var newest *time.Time
	if ts, ok := store.Newest(); ok {
		newest = &ts
	}
	if err := e.receipts.MarkAsRead(leagueID, e.deps.Session.UserID, newest); err != nil {
		log.Debug().Err(err).Msg("mark read failed")
	}
	e.deps.Emitter.Emit(ctx, "league_opened", leagueID, e.deps.Session.UserID, nil)
	return room, nil
}

// OpenView opens a league and returns its rendered log and whether older
// pages may exist.
func (e *Engine) OpenView(ctx context.Context, leagueID string) ([]models.MessageView, bool, error) {
	room, err := e.OpenLeague(ctx, leagueID)
	if err != nil {
		return nil, false, err
	}
	return room.View(), room.Store.HasMore(), nil
}

// CloseLeague flushes receipts, leaves presence and drops the room.
func (e *Engine) CloseLeague(leagueID string) {
	e.mu.Lock()
	room, ok := e.rooms[leagueID]
	delete(e.rooms, leagueID)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.receipts.Flush()
	room.close()
}

// Room returns an open room.
func (e *Engine) Room(leagueID string) (*Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	room, ok := e.rooms[leagueID]
	return room, ok
}

// Messages returns the rendered log of an open league.
func (e *Engine) Messages(leagueID string) ([]models.MessageView, error) {
	room, ok := e.Room(leagueID)
	if !ok {
		return nil, ErrLeagueNotOpen
	}
	return room.View(), nil
}

// LoadOlder pages an open league backward.
func (e *Engine) LoadOlder(ctx context.Context, leagueID string) (models.Page, error) {
	room, ok := e.Room(leagueID)
	if !ok {
		return models.Page{}, ErrLeagueNotOpen
	}
	return room.Store.LoadOlder(ctx)
}

// Send posts a message to an open league.
func (e *Engine) Send(ctx context.Context, leagueID, text string, replyToID *string) (models.Message, error) {
	room, ok := e.Room(leagueID)
	if !ok {
		return models.Message{}, ErrLeagueNotOpen
	}
	return room.Store.Send(ctx, text, replyToID)
}

// Retry resends a failed message.
func (e *Engine) Retry(ctx context.Context, leagueID, messageID string) (models.Message, error) {
	room, ok := e.Room(leagueID)
	if !ok {
		return models.Message{}, ErrLeagueNotOpen
	}
	return room.Store.Retry(ctx, messageID)
}

// ToggleReaction flips the user's emoji on a message of an open league.
func (e *Engine) ToggleReaction(ctx context.Context, leagueID, messageID, emoji string) (bool, error) {
	room, ok := e.Room(leagueID)
	if !ok {
		return false, ErrLeagueNotOpen
	}
	return room.Reactions.Toggle(ctx, messageID, emoji)
}

// MarkRead records a read watermark and clears the league counter.
func (e *Engine) MarkRead(leagueID string, at *time.Time) error {
	if err := e.receipts.MarkAsRead(leagueID, e.deps.Session.UserID, at); err != nil {
		return err
	}
	e.unread.ClearLeague(leagueID)
	return nil
}

// SetForeground forwards app lifecycle changes.
func (e *Engine) SetForeground(ctx context.Context, foreground bool) error {
	e.mu.Lock()
	e.foreground = foreground
	rooms := make([]*Room, 0, len(e.rooms))
	for _, room := range e.rooms {
		rooms = append(rooms, room)
	}
	e.mu.Unlock()

	for _, room := range rooms {
		room.presence.SetForeground(foreground)
	}
	if !foreground {
		e.receipts.Flush()
		return nil
	}
	return e.unread.OnForeground(ctx)
}

// UnreadSnapshot returns every unread counter.
func (e *Engine) UnreadSnapshot() models.UnreadEvent {
	return e.unread.Snapshot()
}

// Previews returns the inbox previews, newest first.
func (e *Engine) Previews(ctx context.Context) ([]models.InboxPreview, error) {
	return e.inbox.Previews(ctx)
}

// OnRoomChange registers an observer of room events.
func (e *Engine) OnRoomChange(fn func(models.RoomEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roomFns = append(e.roomFns, fn)
}

// OnUnreadChange registers an observer of unread snapshots.
func (e *Engine) OnUnreadChange(fn func(models.UnreadEvent)) {
	e.unread.OnChange(fn)
}

// OnInboxChange registers an observer of replaced previews.
func (e *Engine) OnInboxChange(fn func(models.InboxPreview)) {
	e.inbox.OnChange(fn)
}

// Stop closes every room and releases all subscriptions.
func (e *Engine) Stop() {
	e.mu.Lock()
	rooms := e.rooms
	e.rooms = make(map[string]*Room)
	e.mu.Unlock()

	e.receipts.Flush()
	for _, room := range rooms {
		room.close()
	}
	e.unread.Stop()
	e.inbox.Stop()
	e.receipts.Stop()
}

// syncMemberships follows leagues joined since the last recompute and primes
// the read tracker with the stored watermarks.
func (e *Engine) syncMemberships(ctx context.Context, leagueIDs []string, receipts []models.ReadReceipt) {
	for _, r := range receipts {
		e.receipts.Seed(r)
	}
	if err := e.inbox.Seed(ctx, leagueIDs); err != nil {
		log.Warn().Err(err).Msg("inbox seed failed")
	}
}

func (e *Engine) isForeground() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.foreground
}

func (e *Engine) publishRoom(ev models.RoomEvent) {
	e.mu.Lock()
	fns := append([]func(models.RoomEvent){}, e.roomFns...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// afterSend updates the inbox preview and notifies the league. It runs off
// the send path and only logs failures.
func (e *Engine) afterSend(m models.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), afterSendTimeout)
		defer cancel()

		if _, err := e.inbox.Upsert(ctx, models.PreviewFromMessage(m)); err != nil {
			log.Warn().Err(err).Str("league_id", m.LeagueID).Msg("preview update failed")
		}

		since := time.Now().Add(-3 * e.opts.HeartbeatInterval)
		active, err := e.deps.Presence.ActiveUserIDs(ctx, m.LeagueID, since)
		if err != nil {
			log.Debug().Err(err).Str("league_id", m.LeagueID).Msg("active users lookup failed")
		}
		others := make([]string, 0, len(active))
		for _, id := range active {
			if id != m.UserID {
				others = append(others, id)
			}
		}
		e.deps.Notifier.Notify(NotificationPayload{
			LeagueID:      m.LeagueID,
			SenderID:      m.UserID,
			SenderName:    e.deps.Session.DisplayName,
			Content:       m.Content,
			ActiveUserIDs: others,
		}, e.deps.Session.Token)

		e.deps.Emitter.Emit(ctx, "message_sent", m.LeagueID, m.UserID, map[string]string{"message_id": m.ID})
	}()
}

func (e *Engine) afterFailure(m models.Message, err error) {
	e.deps.Emitter.Emit(context.Background(), "send_failed", m.LeagueID, m.UserID, map[string]string{"error": err.Error()})
}
