package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"league-chat/internal/models"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
)

const reactionsConsumer = "reactions"

type reactionKey struct {
	userID string
	emoji  string
}

// ReactionStore holds the reactions of the persisted messages in one open
// league view and keeps them current from the realtime feed.
type ReactionStore struct {
	repo    repositories.ReactionRepository
	manager *realtime.Manager
	userID  string

	mu       sync.Mutex
	tracked  []string
	records  map[string]map[reactionKey]struct{}
	sub      *realtime.Subscription
	onChange []func(messageID string)
	closed   bool
}

// NewReactionStore creates an empty store for userID.
func NewReactionStore(repo repositories.ReactionRepository, manager *realtime.Manager, userID string) *ReactionStore {
	return &ReactionStore{
		repo:    repo,
		manager: manager,
		userID:  userID,
		records: make(map[string]map[reactionKey]struct{}),
	}
}

// Track replaces the set of tracked messages. Optimistic ids are ignored.
// Calling it again with the same set is a no-op.
func (s *ReactionStore) Track(ctx context.Context, messageIDs []string) error {
	ids := persistedIDs(messageIDs)

	s.mu.Lock()
	if s.closed || equalStrings(ids, s.tracked) {
		s.mu.Unlock()
		return nil
	}
	old := s.sub
	s.sub = nil
	s.tracked = ids
	keep := make(map[string]map[reactionKey]struct{}, len(ids))
	for _, id := range ids {
		if set, ok := s.records[id]; ok {
			keep[id] = set
		}
	}
	s.records = keep
	s.mu.Unlock()

	old.Close()
	if len(ids) == 0 {
		return nil
	}

	sub, err := s.manager.Subscribe(reactionsConsumer, realtime.In(realtime.TableReactions, "message_id", ids), s.handle)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed || !equalStrings(ids, s.tracked) {
		s.mu.Unlock()
		sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	return s.load(ctx, ids)
}

// Toggle adds the reaction if absent, removes it if present.
func (s *ReactionStore) Toggle(ctx context.Context, messageID, emoji string) (bool, error) {
	if s.userID == "" {
		return false, ErrAuthUnavailable
	}
	if (models.Message{ID: messageID}).IsOptimistic() {
		return false, ErrNotPersisted
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	added, err := s.repo.ToggleReaction(ctx, messageID, s.userID, emoji)
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("reaction toggle failed")
		return false, transportError("toggle reaction", err)
	}
	r := models.Reaction{MessageID: messageID, UserID: s.userID, Emoji: emoji}
	if added {
		s.apply(realtime.Inserted[models.Reaction]{Row: r})
	} else {
		s.apply(realtime.Deleted[models.Reaction]{Old: r})
	}
	return added, nil
}

// Summaries groups the reactions of messageID by emoji. Emojis are ordered by
// count, then by emoji.
func (s *ReactionStore) Summaries(messageID string) []models.ReactionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	byEmoji := make(map[string]*models.ReactionSummary)
	for k := range s.records[messageID] {
		sum, ok := byEmoji[k.emoji]
		if !ok {
			sum = &models.ReactionSummary{Emoji: k.emoji}
			byEmoji[k.emoji] = sum
		}
		sum.Count++
		if k.userID == s.userID {
			sum.ReactedByMe = true
		}
	}
	out := make([]models.ReactionSummary, 0, len(byEmoji))
	for _, sum := range byEmoji {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}

// OnChange registers a callback fired with the id of a message whose
// reactions changed.
func (s *ReactionStore) OnChange(fn func(messageID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Close releases the realtime subscription.
func (s *ReactionStore) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.tracked = nil
	s.closed = true
	s.mu.Unlock()
	sub.Close()
}

func (s *ReactionStore) load(ctx context.Context, ids []string) error {
	rows, err := s.repo.ListForMessages(ctx, ids)
	if err != nil {
		return transportError("load reactions", err)
	}

	s.mu.Lock()
	if !equalStrings(ids, s.tracked) {
		s.mu.Unlock()
		return nil
	}
	fresh := make(map[string]map[reactionKey]struct{}, len(ids))
	for _, r := range rows {
		set, ok := fresh[r.MessageID]
		if !ok {
			set = make(map[reactionKey]struct{})
			fresh[r.MessageID] = set
		}
		set[reactionKey{userID: r.UserID, emoji: r.Emoji}] = struct{}{}
	}
	s.records = fresh
	listeners := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, id := range ids {
		for _, fn := range listeners {
			fn(id)
		}
	}
	return nil
}

func (s *ReactionStore) handle(c realtime.Change) {
	ev, err := realtime.Decode(c, realtime.ParseReaction)
	if err != nil {
		log.Debug().Err(err).Msg("drop malformed reaction change")
		return
	}
	if _, ok := ev.(realtime.Resync[models.Reaction]); ok {
		s.mu.Lock()
		ids := append([]string(nil), s.tracked...)
		s.mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.load(ctx, ids); err != nil {
				log.Warn().Err(err).Msg("reaction resync failed")
			}
		}()
		return
	}
	s.apply(ev)
}

func (s *ReactionStore) apply(ev realtime.Event[models.Reaction]) {
	var changed []string

	s.mu.Lock()
	switch e := ev.(type) {
	case realtime.Inserted[models.Reaction]:
		if s.add(e.Row) {
			changed = append(changed, e.Row.MessageID)
		}
	case realtime.Deleted[models.Reaction]:
		if s.remove(e.Old) {
			changed = append(changed, e.Old.MessageID)
		}
	case realtime.Updated[models.Reaction]:
		if s.remove(e.Old) {
			changed = append(changed, e.Old.MessageID)
		}
		if s.add(e.Row) {
			changed = append(changed, e.Row.MessageID)
		}
	}
	listeners := append([]func(string){}, s.onChange...)
	s.mu.Unlock()

	for _, id := range changed {
		for _, fn := range listeners {
			fn(id)
		}
	}
}

func (s *ReactionStore) add(r models.Reaction) bool {
	if !containsString(s.tracked, r.MessageID) {
		return false
	}
	set, ok := s.records[r.MessageID]
	if !ok {
		set = make(map[reactionKey]struct{})
		s.records[r.MessageID] = set
	}
	k := reactionKey{userID: r.UserID, emoji: r.Emoji}
	if _, exists := set[k]; exists {
		return false
	}
	set[k] = struct{}{}
	return true
}

func (s *ReactionStore) remove(r models.Reaction) bool {
	set, ok := s.records[r.MessageID]
	if !ok {
		return false
	}
	k := reactionKey{userID: r.UserID, emoji: r.Emoji}
	if _, exists := set[k]; !exists {
		return false
	}
	delete(set, k)
	return true
}

func persistedIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || (models.Message{ID: id}).IsOptimistic() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsString(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
