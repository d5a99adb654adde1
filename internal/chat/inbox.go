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

const inboxConsumer = "inbox"

// PreviewCache stores the latest preview per league.
type PreviewCache interface {
	Get(ctx context.Context, leagueID string) (models.InboxPreview, bool, error)
	// SetIfNewer stores p only if it is strictly newer than the cached preview.
	SetIfNewer(ctx context.Context, p models.InboxPreview) (bool, error)
	List(ctx context.Context, leagueIDs []string) ([]models.InboxPreview, error)
}

// MemoryPreviewCache is the in-process PreviewCache.
type MemoryPreviewCache struct {
	mu       sync.RWMutex
	previews map[string]models.InboxPreview
}

func NewMemoryPreviewCache() *MemoryPreviewCache {
	return &MemoryPreviewCache{previews: make(map[string]models.InboxPreview)}
}

func (c *MemoryPreviewCache) Get(_ context.Context, leagueID string) (models.InboxPreview, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.previews[leagueID]
	return p, ok, nil
}

func (c *MemoryPreviewCache) SetIfNewer(_ context.Context, p models.InboxPreview) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.previews[p.LeagueID]; ok && models.PreviewKey(cur.CreatedAt) >= models.PreviewKey(p.CreatedAt) {
		return false, nil
	}
	c.previews[p.LeagueID] = p
	return true, nil
}

func (c *MemoryPreviewCache) List(_ context.Context, leagueIDs []string) ([]models.InboxPreview, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.InboxPreview, 0, len(leagueIDs))
	for _, id := range leagueIDs {
		if p, ok := c.previews[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// InboxUpdater keeps the preview cache current for every league of the user,
// whether or not a league view is open.
type InboxUpdater struct {
	cache    PreviewCache
	messages repositories.MessageRepository
	manager  *realtime.Manager

	seedMu    sync.Mutex
	mu        sync.Mutex
	seeded    map[string]*realtime.Subscription
	listeners []func(models.InboxPreview)
}

func NewInboxUpdater(cache PreviewCache, messages repositories.MessageRepository, manager *realtime.Manager) *InboxUpdater {
	return &InboxUpdater{
		cache:    cache,
		messages: messages,
		manager:  manager,
		seeded:   make(map[string]*realtime.Subscription),
	}
}

// Seed loads the latest message of every league not seen before and starts
// following its message feed.
func (u *InboxUpdater) Seed(ctx context.Context, leagueIDs []string) error {
	u.seedMu.Lock()
	defer u.seedMu.Unlock()

	var fresh []string
	for _, league := range leagueIDs {
		u.mu.Lock()
		_, ok := u.seeded[league]
		u.mu.Unlock()
		if ok {
			continue
		}
		sub, err := u.manager.Subscribe(inboxConsumer, realtime.Eq(realtime.TableMessages, "league_id", league, realtime.OpInsert), u.handle)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.seeded[league] = sub
		u.mu.Unlock()
		fresh = append(fresh, league)
	}
	if len(fresh) == 0 {
		return nil
	}

	previews, err := u.messages.LatestPerLeague(ctx, fresh)
	if err != nil {
		// Forget the fresh leagues so the next Seed retries them.
		u.mu.Lock()
		for _, league := range fresh {
			if sub, ok := u.seeded[league]; ok {
				sub.Close()
				delete(u.seeded, league)
			}
		}
		u.mu.Unlock()
		return transportError("load previews", err)
	}
	for _, p := range previews {
		if _, err := u.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Upsert replaces the league preview if p is strictly newer.
func (u *InboxUpdater) Upsert(ctx context.Context, p models.InboxPreview) (bool, error) {
	p.CreatedAt = p.CreatedAt.UTC()
	changed, err := u.cache.SetIfNewer(ctx, p)
	if err != nil {
		return false, transportError("update preview", err)
	}
	if !changed {
		return false, nil
	}
	u.mu.Lock()
	listeners := append([]func(models.InboxPreview){}, u.listeners...)
	u.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
	return true, nil
}

// Previews returns the cached previews, newest first.
func (u *InboxUpdater) Previews(ctx context.Context) ([]models.InboxPreview, error) {
	u.mu.Lock()
	leagues := make([]string, 0, len(u.seeded))
	for id := range u.seeded {
		leagues = append(leagues, id)
	}
	u.mu.Unlock()
	sort.Strings(leagues)

	out, err := u.cache.List(ctx, leagues)
	if err != nil {
		return nil, transportError("list previews", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// OnChange registers an observer of replaced previews.
func (u *InboxUpdater) OnChange(fn func(models.InboxPreview)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, fn)
}

// Stop releases every league subscription.
func (u *InboxUpdater) Stop() {
	u.mu.Lock()
	subs := u.seeded
	u.seeded = make(map[string]*realtime.Subscription)
	u.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (u *InboxUpdater) handle(c realtime.Change) {
	ev, err := realtime.Decode(c, realtime.ParseMessage)
	if err != nil {
		log.Debug().Err(err).Msg("drop malformed message change")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch e := ev.(type) {
	case realtime.Inserted[models.Message]:
		if c.Partial {
			go u.fetchPreview(e.Row.ID)
			return
		}
		if _, err := u.Upsert(ctx, models.PreviewFromMessage(e.Row)); err != nil {
			log.Warn().Err(err).Str("league_id", e.Row.LeagueID).Msg("preview update failed")
		}
	case realtime.Resync[models.Message]:
		go u.reload()
	}
}

func (u *InboxUpdater) fetchPreview(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := u.messages.ListByIDs(ctx, []string{id})
	if err != nil {
		log.Warn().Err(err).Str("message_id", id).Msg("preview fetch failed")
		return
	}
	for _, m := range rows {
		if _, err := u.Upsert(ctx, models.PreviewFromMessage(m)); err != nil {
			log.Warn().Err(err).Str("league_id", m.LeagueID).Msg("preview update failed")
		}
	}
}

func (u *InboxUpdater) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	u.mu.Lock()
	leagues := make([]string, 0, len(u.seeded))
	for id := range u.seeded {
		leagues = append(leagues, id)
	}
	u.mu.Unlock()
	if len(leagues) == 0 {
		return
	}

	previews, err := u.messages.LatestPerLeague(ctx, leagues)
	if err != nil {
		log.Warn().Err(err).Msg("preview resync failed")
		return
	}
	for _, p := range previews {
		if _, err := u.Upsert(ctx, p); err != nil {
			log.Warn().Err(err).Str("league_id", p.LeagueID).Msg("preview update failed")
		}
	}
}
