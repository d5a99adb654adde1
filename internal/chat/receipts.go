package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"league-chat/internal/models"
	"league-chat/internal/repositories"
)

const receiptWriteTimeout = 10 * time.Second

type receiptKey struct {
	leagueID string
	userID   string
}

// ReadTracker records how far each user has read in each league. Writes are
// coalesced per (league, user) and never move a watermark backwards.
type ReadTracker struct {
	repo   repositories.ReadRepository
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[receiptKey]*Coalescer[time.Time]
	written map[receiptKey]time.Time
	onWrite []func(models.ReadReceipt)
}

// NewReadTracker creates a tracker that debounces writes by window.
func NewReadTracker(repo repositories.ReadRepository, window time.Duration) *ReadTracker {
	return &ReadTracker{
		repo:    repo,
		window:  window,
		now:     time.Now,
		pending: make(map[receiptKey]*Coalescer[time.Time]),
		written: make(map[receiptKey]time.Time),
	}
}

// MarkAsRead schedules a watermark write. A nil at means now.
func (t *ReadTracker) MarkAsRead(leagueID, userID string, at *time.Time) error {
	if userID == "" {
		return ErrAuthUnavailable
	}
	ts := t.now()
	if at != nil {
		ts = *at
	}
	t.coalescer(receiptKey{leagueID: leagueID, userID: userID}).Submit(ts.UTC())
	return nil
}

// Seed records a watermark already known to be stored.
func (t *ReadTracker) Seed(r models.ReadReceipt) {
	t.remember(receiptKey{leagueID: r.LeagueID, userID: r.UserID}, r.LastReadAt)
}

// LastWritten returns the newest watermark known to be stored.
func (t *ReadTracker) LastWritten(leagueID, userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.written[receiptKey{leagueID: leagueID, userID: userID}]
	return at, ok
}

// OnWrite registers a callback for successful writes.
func (t *ReadTracker) OnWrite(fn func(models.ReadReceipt)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = append(t.onWrite, fn)
}

// Flush writes every pending watermark now.
func (t *ReadTracker) Flush() {
	for _, c := range t.coalescers() {
		c.Flush()
	}
}

// Stop drops pending writes.
func (t *ReadTracker) Stop() {
	for _, c := range t.coalescers() {
		c.Stop()
	}
}

func (t *ReadTracker) coalescers() []*Coalescer[time.Time] {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Coalescer[time.Time], 0, len(t.pending))
	for _, c := range t.pending {
		out = append(out, c)
	}
	return out
}

func (t *ReadTracker) coalescer(key receiptKey) *Coalescer[time.Time] {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[key]
	if !ok {
		c = NewCoalescer(t.window, laterOf, func(at time.Time) { t.write(key, at) })
		t.pending[key] = c
	}
	return c
}

func (t *ReadTracker) write(key receiptKey, at time.Time) {
	if prev, ok := t.LastWritten(key.leagueID, key.userID); ok {
		at = laterOf(at, prev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), receiptWriteTimeout)
	defer cancel()
	receipt, err := t.repo.UpsertReceipt(ctx, key.leagueID, key.userID, at)
	if err != nil {
		log.Debug().Err(err).Str("league_id", key.leagueID).Msg("read receipt write failed")
		return
	}
	if receipt.LastReadAt.IsZero() {
		receipt = models.ReadReceipt{LeagueID: key.leagueID, UserID: key.userID, LastReadAt: at}
	}
	t.remember(key, receipt.LastReadAt)

	t.mu.Lock()
	listeners := append([]func(models.ReadReceipt){}, t.onWrite...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(receipt)
	}
}

func (t *ReadTracker) remember(key receiptKey, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.written[key]; ok {
		at = laterOf(prev, at)
	}
	t.written[key] = at
}
