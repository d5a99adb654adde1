package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"league-chat/internal/models"
	"league-chat/internal/observability"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
)

const (
	unreadConsumer = "unread"

	strategyBatch     = "batch"
	strategyPerLeague = "per_league"

	// DefaultRecomputeDelay coalesces bursts of realtime events into one
	// recompute.
	DefaultRecomputeDelay = 250 * time.Millisecond
	recomputeTimeout      = 15 * time.Second
)

// UnreadOptions tunes the aggregator.
type UnreadOptions struct {
	SystemSenderID  string
	BatchMinLeagues int
	RecomputeDelay  time.Duration
}

// UnreadAggregator keeps one capped unread counter per league the user
// belongs to. Counters move optimistically on realtime events and are then
// corrected by a recompute against the store.
type UnreadAggregator struct {
	userID   string
	opts     UnreadOptions
	messages repositories.MessageRepository
	reads    repositories.ReadRepository
	members  repositories.MemberRepository
	manager  *realtime.Manager
	refresh  *Coalescer[struct{}]

	mu        sync.Mutex
	counts    map[string]int
	receipts  map[string]time.Time
	bumped    map[string]map[string]struct{}
	subs      map[string]*realtime.Subscription
	readsSub  *realtime.Subscription
	issued    uint64
	applied   uint64
	listeners []func(models.UnreadEvent)
	synced    []func(context.Context, []string, []models.ReadReceipt)
}

// NewUnreadAggregator builds the aggregator. Engine constructs exactly one.
func NewUnreadAggregator(userID string, messages repositories.MessageRepository, reads repositories.ReadRepository, members repositories.MemberRepository, manager *realtime.Manager, opts UnreadOptions) *UnreadAggregator {
	if opts.BatchMinLeagues <= 0 {
		opts.BatchMinLeagues = 1
	}
	if opts.RecomputeDelay <= 0 {
		opts.RecomputeDelay = DefaultRecomputeDelay
	}
	a := &UnreadAggregator{
		userID:   userID,
		opts:     opts,
		messages: messages,
		reads:    reads,
		members:  members,
		manager:  manager,
		counts:   make(map[string]int),
		receipts: make(map[string]time.Time),
		bumped:   make(map[string]map[string]struct{}),
		subs:     make(map[string]*realtime.Subscription),
	}
	a.refresh = NewCoalescer(opts.RecomputeDelay, func(p, _ struct{}) struct{} { return p }, func(struct{}) { a.recomputeAsync() })
	return a
}

// Start subscribes to the user's read receipts and to the message feed of
// every league.
func (a *UnreadAggregator) Start(leagueIDs []string) error {
	if a.userID == "" {
		return ErrAuthUnavailable
	}
	a.mu.Lock()
	started := a.readsSub != nil
	a.mu.Unlock()
	if !started {
		sub, err := a.manager.Subscribe(unreadConsumer, realtime.Eq(realtime.TableReads, "user_id", a.userID), a.handleRead)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.readsSub = sub
		a.mu.Unlock()
	}
	return a.track(leagueIDs)
}

// Recompute reloads memberships and receipts and recounts every league.
func (a *UnreadAggregator) Recompute(ctx context.Context) error {
	if a.userID == "" {
		return ErrAuthUnavailable
	}
	ctx, span := tracer.Start(ctx, "UnreadAggregator.Recompute")
	defer span.End()

	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.mu.Unlock()

	leagues, err := a.members.ListLeagueIDs(ctx, a.userID)
	if err != nil {
		observability.IncUnreadRecompute("memberships", "error")
		return transportError("list leagues", err)
	}
	receipts, err := a.reads.ListForUser(ctx, a.userID)
	if err != nil {
		observability.IncUnreadRecompute("receipts", "error")
		return transportError("list receipts", err)
	}
	lastRead := make(map[string]time.Time, len(receipts))
	for _, r := range receipts {
		lastRead[r.LeagueID] = r.LastReadAt
	}

	counts, strategy, err := a.count(ctx, leagues, lastRead)
	span.SetAttributes(attribute.String("strategy", strategy), attribute.Int("leagues", len(leagues)))
	if err != nil {
		observability.IncUnreadRecompute(strategy, "error")
		return transportError("count unread", err)
	}

	a.mu.Lock()
	if seq < a.applied {
		a.mu.Unlock()
		observability.IncUnreadRecompute(strategy, "stale")
		return nil
	}
	a.applied = seq
	a.counts = counts
	// Counts now reflect every insert up to the query.
	a.bumped = make(map[string]map[string]struct{})
	for league, at := range lastRead {
		if prev, ok := a.receipts[league]; !ok || at.UnixMilli() >= prev.UnixMilli() {
			a.receipts[league] = at
		}
	}
	a.mu.Unlock()

	observability.IncUnreadRecompute(strategy, "ok")
	if err := a.track(leagues); err != nil {
		log.Warn().Err(err).Msg("unread subscription failed")
	}
	a.emit()

	a.mu.Lock()
	synced := append([]func(context.Context, []string, []models.ReadReceipt){}, a.synced...)
	a.mu.Unlock()
	for _, fn := range synced {
		fn(ctx, leagues, receipts)
	}
	return nil
}

// HandleMessageInserted bumps the league counter for a message by someone
// else that is newer than the known receipt.
func (a *UnreadAggregator) HandleMessageInserted(m models.Message) {
	if m.UserID == a.userID || (a.opts.SystemSenderID != "" && m.UserID == a.opts.SystemSenderID) {
		return
	}

	a.mu.Lock()
	if _, ok := a.subs[m.LeagueID]; !ok {
		a.mu.Unlock()
		return
	}
	seen := a.bumped[m.LeagueID]
	if seen == nil {
		seen = make(map[string]struct{})
		a.bumped[m.LeagueID] = seen
	}
	if _, dup := seen[m.ID]; dup {
		a.mu.Unlock()
		return
	}
	seen[m.ID] = struct{}{}
	if r, ok := a.receipts[m.LeagueID]; ok && m.CreatedAt.UnixMilli() <= r.UnixMilli() {
		a.mu.Unlock()
		return
	}
	a.counts[m.LeagueID] = Cap(float64(a.counts[m.LeagueID] + 1))
	a.mu.Unlock()

	a.emit()
	a.refresh.Submit(struct{}{})
}

// HandleReadChanged zeroes the league when the user's receipt moves forward.
func (a *UnreadAggregator) HandleReadChanged(r models.ReadReceipt) {
	if r.UserID != a.userID {
		return
	}
	a.mu.Lock()
	if prev, ok := a.receipts[r.LeagueID]; ok && r.LastReadAt.UnixMilli() < prev.UnixMilli() {
		a.mu.Unlock()
		return
	}
	a.receipts[r.LeagueID] = r.LastReadAt
	a.counts[r.LeagueID] = 0
	delete(a.bumped, r.LeagueID)
	a.mu.Unlock()

	a.emit()
	a.refresh.Submit(struct{}{})
}

// ClearLeague zeroes a counter optimistically.
func (a *UnreadAggregator) ClearLeague(leagueID string) {
	a.mu.Lock()
	changed := a.counts[leagueID] != 0
	a.counts[leagueID] = 0
	a.mu.Unlock()
	if changed {
		a.emit()
	}
}

// OnForeground forces a recompute.
func (a *UnreadAggregator) OnForeground(ctx context.Context) error {
	return a.Recompute(ctx)
}

// Count returns the capped counter of a league.
func (a *UnreadAggregator) Count(leagueID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[leagueID]
}

// Badge returns the display badge of a league, nil when zero.
func (a *UnreadAggregator) Badge(leagueID string) *string {
	return FormatBadge(float64(a.Count(leagueID)))
}

// Snapshot returns every counter with its badge.
func (a *UnreadAggregator) Snapshot() models.UnreadEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := models.UnreadEvent{
		Type:   "unread",
		Counts: make(map[string]int, len(a.counts)),
		Badges: make(map[string]string),
	}
	for league, n := range a.counts {
		ev.Counts[league] = n
		ev.Total += n
		if b := FormatBadge(float64(n)); b != nil {
			ev.Badges[league] = *b
		}
	}
	return ev
}

// OnChange registers an observer of counter snapshots.
func (a *UnreadAggregator) OnChange(fn func(models.UnreadEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// OnRecompute registers a callback run with the memberships and receipts of
// every applied recompute.
func (a *UnreadAggregator) OnRecompute(fn func(ctx context.Context, leagueIDs []string, receipts []models.ReadReceipt)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.synced = append(a.synced, fn)
}

// Stop releases every subscription and cancels a pending recompute.
func (a *UnreadAggregator) Stop() {
	a.refresh.Stop()
	a.mu.Lock()
	subs := make([]*realtime.Subscription, 0, len(a.subs)+1)
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	subs = append(subs, a.readsSub)
	a.subs = make(map[string]*realtime.Subscription)
	a.readsSub = nil
	a.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (a *UnreadAggregator) count(ctx context.Context, leagues []string, lastRead map[string]time.Time) (map[string]int, string, error) {
	exclude := []string{a.userID}
	if a.opts.SystemSenderID != "" {
		exclude = append(exclude, a.opts.SystemSenderID)
	}

	counts := make(map[string]int, len(leagues))
	var withReceipt, without []string
	for _, l := range leagues {
		counts[l] = 0
		if _, ok := lastRead[l]; ok {
			withReceipt = append(withReceipt, l)
		} else {
			without = append(without, l)
		}
	}

	strategy := strategyPerLeague
	if len(withReceipt) > 0 && len(withReceipt) >= a.opts.BatchMinLeagues {
		strategy = strategyBatch
		floor := lastRead[withReceipt[0]]
		for _, l := range withReceipt[1:] {
			if lastRead[l].Before(floor) {
				floor = lastRead[l]
			}
		}
		stamps, err := a.messages.ListSince(ctx, withReceipt, floor, exclude)
		if err != nil {
			return nil, strategy, err
		}
		for _, s := range stamps {
			r, ok := lastRead[s.LeagueID]
			if ok && s.CreatedAt.UnixMilli() > r.UnixMilli() {
				counts[s.LeagueID]++
			}
		}
	} else {
		for _, l := range withReceipt {
			since := lastRead[l]
			n, err := a.messages.CountSince(ctx, l, &since, exclude)
			if err != nil {
				return nil, strategy, err
			}
			counts[l] = n
		}
	}
	for _, l := range without {
		n, err := a.messages.CountSince(ctx, l, nil, exclude)
		if err != nil {
			return nil, strategy, err
		}
		counts[l] = n
	}

	for l, n := range counts {
		counts[l] = Cap(float64(n))
	}
	return counts, strategy, nil
}

func (a *UnreadAggregator) track(leagueIDs []string) error {
	for _, league := range leagueIDs {
		a.mu.Lock()
		_, ok := a.subs[league]
		a.mu.Unlock()
		if ok {
			continue
		}
		sub, err := a.manager.Subscribe(unreadConsumer, realtime.Eq(realtime.TableMessages, "league_id", league, realtime.OpInsert), a.handleMessage)
		if err != nil {
			return err
		}
		a.mu.Lock()
		if _, raced := a.subs[league]; raced {
			a.mu.Unlock()
			sub.Close()
			continue
		}
		a.subs[league] = sub
		a.mu.Unlock()
	}
	return nil
}

func (a *UnreadAggregator) handleMessage(c realtime.Change) {
	ev, err := realtime.Decode(c, realtime.ParseMessage)
	if err != nil {
		log.Debug().Err(err).Msg("drop malformed message change")
		return
	}
	switch e := ev.(type) {
	case realtime.Inserted[models.Message]:
		a.HandleMessageInserted(e.Row)
	case realtime.Resync[models.Message]:
		a.refresh.Submit(struct{}{})
	}
}

func (a *UnreadAggregator) handleRead(c realtime.Change) {
	ev, err := realtime.Decode(c, realtime.ParseReadReceipt)
	if err != nil {
		log.Debug().Err(err).Msg("drop malformed read change")
		return
	}
	switch e := ev.(type) {
	case realtime.Inserted[models.ReadReceipt]:
		a.HandleReadChanged(e.Row)
	case realtime.Updated[models.ReadReceipt]:
		a.HandleReadChanged(e.Row)
	case realtime.Resync[models.ReadReceipt]:
		a.refresh.Submit(struct{}{})
	}
}

func (a *UnreadAggregator) recomputeAsync() {
	ctx, cancel := context.WithTimeout(context.Background(), recomputeTimeout)
	defer cancel()
	if err := a.Recompute(ctx); err != nil {
		log.Warn().Err(err).Msg("unread recompute failed")
	}
}

func (a *UnreadAggregator) emit() {
	snap := a.Snapshot()
	a.mu.Lock()
	listeners := append([]func(models.UnreadEvent){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
