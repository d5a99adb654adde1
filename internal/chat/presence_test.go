package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"league-chat/internal/mocks"
)

type presenceLog struct {
	mu      sync.Mutex
	entries []string
}

func (p *presenceLog) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, s)
}

func (p *presenceLog) count(s string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e == s {
			n++
		}
	}
	return n
}

func (p *presenceLog) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return ""
	}
	return p.entries[len(p.entries)-1]
}

func newPresenceMock(l *presenceLog) *mocks.PresenceRepositoryMock {
	repo := new(mocks.PresenceRepositoryMock)
	repo.On("UpsertPresence", mock.Anything, mock.Anything, "u1").
		Run(func(args mock.Arguments) { l.add("up:" + args.String(1)) }).Return(nil)
	repo.On("DeletePresence", mock.Anything, mock.Anything, "u1").
		Run(func(args mock.Arguments) { l.add("del:" + args.String(1)) }).Return(nil)
	return repo
}

func TestHeartbeatBeatsWhileOpen(t *testing.T) {
	events := &presenceLog{}
	hb := NewHeartbeat(newPresenceMock(events), "u1", 15*time.Millisecond)

	hb.Enter("L1")
	require.Eventually(t, func() bool { return events.count("up:L1") >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "L1", hb.League())

	hb.Leave("L1")
	assert.Equal(t, "del:L1", events.last())
	assert.Equal(t, "", hb.League())

	n := events.count("up:L1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, events.count("up:L1"))
}

func TestHeartbeatPausesInBackground(t *testing.T) {
	events := &presenceLog{}
	hb := NewHeartbeat(newPresenceMock(events), "u1", time.Hour)

	hb.Enter("L1")
	require.Eventually(t, func() bool { return events.count("up:L1") == 1 }, time.Second, 5*time.Millisecond)

	hb.SetForeground(false)
	assert.Equal(t, "del:L1", events.last())
	assert.Equal(t, "", hb.League())

	hb.SetForeground(true)
	require.Eventually(t, func() bool { return events.count("up:L1") == 2 }, time.Second, 5*time.Millisecond)
	hb.Stop()
	assert.Equal(t, "del:L1", events.last())
}

func TestHeartbeatSwitchesLeague(t *testing.T) {
	events := &presenceLog{}
	hb := NewHeartbeat(newPresenceMock(events), "u1", time.Hour)

	hb.Enter("L1")
	hb.Enter("L2")
	require.Eventually(t, func() bool { return events.count("up:L2") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, events.count("del:L1"))

	hb.Leave("L1")
	assert.Equal(t, "L2", hb.League())
	hb.Stop()
}

func TestHeartbeatWithoutUserIsNoop(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	hb := NewHeartbeat(repo, "", time.Millisecond)
	hb.Enter("L1")
	time.Sleep(10 * time.Millisecond)
	repo.AssertNotCalled(t, "UpsertPresence", mock.Anything, mock.Anything, mock.Anything)
}
