package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"league-chat/internal/repositories"
)

const presenceWriteTimeout = 5 * time.Second

// Heartbeat keeps a presence row alive while the user has a league open and
// the app is in the foreground. A heartbeat tracks one league at a time;
// the engine runs one per open room.
type Heartbeat struct {
	repo     repositories.PresenceRepository
	userID   string
	interval time.Duration

	mu         sync.Mutex
	leagueID   string
	foreground bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHeartbeat creates a heartbeat that starts in the foreground.
func NewHeartbeat(repo repositories.PresenceRepository, userID string, interval time.Duration) *Heartbeat {
	return &Heartbeat{repo: repo, userID: userID, interval: interval, foreground: true}
}

// Enter starts beating for leagueID, replacing any previous league.
func (h *Heartbeat) Enter(leagueID string) {
	if h.userID == "" {
		return
	}
	h.mu.Lock()
	previous := h.leagueID
	h.stopLocked()
	h.leagueID = leagueID
	if h.foreground {
		h.startLocked()
	}
	h.mu.Unlock()

	if previous != "" && previous != leagueID {
		h.remove(previous)
	}
}

// Leave stops beating for leagueID and deletes its presence row.
func (h *Heartbeat) Leave(leagueID string) {
	h.mu.Lock()
	if h.leagueID != leagueID || leagueID == "" {
		h.mu.Unlock()
		return
	}
	h.stopLocked()
	h.leagueID = ""
	h.mu.Unlock()

	h.remove(leagueID)
}

// SetForeground pauses or resumes the heartbeat.
func (h *Heartbeat) SetForeground(foreground bool) {
	h.mu.Lock()
	if h.foreground == foreground {
		h.mu.Unlock()
		return
	}
	h.foreground = foreground
	leagueID := h.leagueID
	if foreground {
		if leagueID != "" {
			h.startLocked()
		}
		h.mu.Unlock()
		return
	}
	h.stopLocked()
	h.mu.Unlock()

	if leagueID != "" {
		h.remove(leagueID)
	}
}

// League returns the league currently beating, if any.
func (h *Heartbeat) League() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return ""
	}
	return h.leagueID
}

// Stop ends the heartbeat and removes the presence row.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	leagueID := h.leagueID
	h.mu.Unlock()
	h.Leave(leagueID)
}

func (h *Heartbeat) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	go h.beat(ctx, h.leagueID, done)
}

// stopLocked waits for the beating goroutine so no upsert can land after the
// presence row is deleted.
func (h *Heartbeat) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
}

func (h *Heartbeat) beat(ctx context.Context, leagueID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.upsert(ctx, leagueID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.upsert(ctx, leagueID)
		}
	}
}

func (h *Heartbeat) upsert(ctx context.Context, leagueID string) {
	ctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
	defer cancel()
	if err := h.repo.UpsertPresence(ctx, leagueID, h.userID); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Str("league_id", leagueID).Msg("presence heartbeat failed")
	}
}

func (h *Heartbeat) remove(leagueID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	if err := h.repo.DeletePresence(ctx, leagueID, h.userID); err != nil {
		log.Debug().Err(err).Str("league_id", leagueID).Msg("presence delete failed")
	}
}
