package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"league-chat/internal/mocks"
	"league-chat/internal/models"
	"league-chat/internal/realtime"
)

type engineFixture struct {
	messages  *mocks.MessageRepositoryMock
	reads     *mocks.ReadRepositoryMock
	reactions *mocks.ReactionRepositoryMock
	presence  *mocks.PresenceRepositoryMock
	members   *mocks.MemberRepositoryMock
	cache     *MemoryPreviewCache
	src       *realtime.MemorySource
	engine    *Engine
}

func newEngineFixture(t *testing.T, notifier *PushNotifier) *engineFixture {
	t.Helper()
	f := &engineFixture{
		messages:  new(mocks.MessageRepositoryMock),
		reads:     new(mocks.ReadRepositoryMock),
		reactions: new(mocks.ReactionRepositoryMock),
		presence:  new(mocks.PresenceRepositoryMock),
		members:   new(mocks.MemberRepositoryMock),
		cache:     NewMemoryPreviewCache(),
		src:       realtime.NewMemorySource(),
	}
	f.presence.On("UpsertPresence", mock.Anything, mock.Anything, "u1").Return(nil).Maybe()
	f.presence.On("DeletePresence", mock.Anything, mock.Anything, "u1").Return(nil).Maybe()

	f.engine = NewEngine(Deps{
		Session:   me,
		Messages:  f.messages,
		Reads:     f.reads,
		Reactions: f.reactions,
		Presence:  f.presence,
		Members:   f.members,
		Manager:   realtime.NewManager(f.src),
		Cache:     f.cache,
		Notifier:  notifier,
	}, Options{
		PageSize:          50,
		HeartbeatInterval: time.Hour,
		ReadDebounce:      time.Hour,
		RecomputeDelay:    time.Hour,
	})
	f.engine.receipts.now = func() time.Time { return at(0) }
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *engineFixture) openable(league string, page []models.Message) {
	f.members.On("IsMember", mock.Anything, league, "u1").Return(true, nil)
	f.messages.On("ListBefore", mock.Anything, league, (*models.Cursor)(nil), 50).Return(page, nil)
	f.reactions.On("ListForMessages", mock.Anything, mock.Anything).Return([]models.Reaction{}, nil).Maybe()
}

func TestEngineStartSeedsInboxAndUnread(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.members.On("ListLeagueIDs", mock.Anything, "u1").Return([]string{"L1", "L2"}, nil)
	f.messages.On("LatestPerLeague", mock.Anything, []string{"L1", "L2"}).Return([]models.InboxPreview{
		preview("L1", "m1", at(1)),
		preview("L2", "m2", at(2)),
	}, nil)
	f.reads.On("ListForUser", mock.Anything, "u1").Return([]models.ReadReceipt{}, nil)
	f.messages.On("CountSince", mock.Anything, "L1", (*time.Time)(nil), []string{"u1"}).Return(3, nil)
	f.messages.On("CountSince", mock.Anything, "L2", (*time.Time)(nil), []string{"u1"}).Return(0, nil)

	require.NoError(t, f.engine.Start(context.Background()))

	snap := f.engine.UnreadSnapshot()
	assert.Equal(t, 3, snap.Counts["L1"])
	assert.Equal(t, 3, snap.Total)

	previews, err := f.engine.Previews(context.Background())
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.Equal(t, "L2", previews[0].LeagueID)
}

func TestEngineOpenAndCloseLeague(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.reactions.On("ListForMessages", mock.Anything, []string{"m1", "m2"}).Return([]models.Reaction{
		{MessageID: "m1", UserID: "u2", Emoji: "🏈"},
	}, nil)
	f.openable("L1", []models.Message{msg("m2", "L1", "u2", 2), msg("m1", "L1", "u2", 1)})
	f.reads.On("UpsertReceipt", mock.Anything, "L1", "u1", at(2)).
		Return(models.ReadReceipt{LeagueID: "L1", UserID: "u1", LastReadAt: at(2)}, nil).Once()

	room, err := f.engine.OpenLeague(context.Background(), "L1")
	require.NoError(t, err)
	again, err := f.engine.OpenLeague(context.Background(), "L1")
	require.NoError(t, err)
	assert.Same(t, room, again)

	view, err := f.engine.Messages("L1")
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.Equal(t, "m1", view[0].ID)
	assert.Equal(t, []models.ReactionSummary{{Emoji: "🏈", Count: 1}}, view[0].Reactions)

	f.engine.CloseLeague("L1")
	f.reads.AssertExpectations(t)
	f.presence.AssertCalled(t, "DeletePresence", mock.Anything, "L1", "u1")

	_, err = f.engine.Messages("L1")
	assert.ErrorIs(t, err, ErrLeagueNotOpen)
	assert.Equal(t, 0, f.src.Open())
}

func TestEngineRemoteInsertMarksReadInForeground(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.openable("L1", []models.Message{})
	f.reads.On("UpsertReceipt", mock.Anything, "L1", "u1", at(5)).
		Return(models.ReadReceipt{LeagueID: "L1", UserID: "u1", LastReadAt: at(5)}, nil).Once()

	_, err := f.engine.OpenLeague(context.Background(), "L1")
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []models.RoomEvent
	)
	f.engine.OnRoomChange(func(ev models.RoomEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	f.src.Publish(messageChange(msg("r1", "L1", "u2", 5)))
	f.engine.receipts.Flush()
	f.reads.AssertExpectations(t)
	mu.Lock()
	require.NotEmpty(t, events)
	assert.Equal(t, "messages", events[0].Type)
	mu.Unlock()

	require.NoError(t, f.engine.SetForeground(context.Background(), false))
	f.src.Publish(messageChange(msg("r2", "L1", "u2", 9)))
	f.engine.receipts.Flush()
	f.reads.AssertNumberOfCalls(t, "UpsertReceipt", 1)
}

func TestEngineSendUpdatesInboxAndNotifies(t *testing.T) {
	received := make(chan NotificationPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p NotificationPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
	}))
	defer srv.Close()

	f := newEngineFixture(t, NewPushNotifier(srv.URL, time.Second))
	f.openable("L1", []models.Message{})
	f.reads.On("UpsertReceipt", mock.Anything, "L1", "u1", mock.Anything).Return(models.ReadReceipt{}, nil).Maybe()
	f.messages.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: "srv-1", LeagueID: "L1", UserID: "u1", Content: "gm", CreatedAt: at(7)}, nil)
	f.presence.On("ActiveUserIDs", mock.Anything, "L1", mock.Anything).Return([]string{"u1", "u3"}, nil)

	_, err := f.engine.OpenLeague(context.Background(), "L1")
	require.NoError(t, err)

	saved, err := f.engine.Send(context.Background(), "L1", "gm", nil)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID)

	select {
	case p := <-received:
		assert.Equal(t, "L1", p.LeagueID)
		assert.Equal(t, "u1", p.SenderID)
		assert.Equal(t, "Coach", p.SenderName)
		assert.Equal(t, "gm", p.Content)
		assert.Equal(t, []string{"u3"}, p.ActiveUserIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not sent")
	}

	require.Eventually(t, func() bool {
		p, ok, _ := f.cache.Get(context.Background(), "L1")
		return ok && p.MessageID == "srv-1"
	}, time.Second, 10*time.Millisecond)
}

func TestEngineFollowsLeaguesJoinedAfterStart(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.members.On("ListLeagueIDs", mock.Anything, "u1").Return([]string{"L1"}, nil).Twice()
	f.members.On("ListLeagueIDs", mock.Anything, "u1").Return([]string{"L1", "L2"}, nil)
	f.messages.On("LatestPerLeague", mock.Anything, []string{"L1"}).Return([]models.InboxPreview{preview("L1", "m1", at(1))}, nil).Once()
	f.messages.On("LatestPerLeague", mock.Anything, []string{"L2"}).Return([]models.InboxPreview{preview("L2", "m2", at(2))}, nil).Once()
	f.reads.On("ListForUser", mock.Anything, "u1").Return([]models.ReadReceipt{{LeagueID: "L1", UserID: "u1", LastReadAt: at(3)}}, nil)
	f.messages.On("ListSince", mock.Anything, []string{"L1"}, at(3), []string{"u1"}).Return([]models.MessageStamp{}, nil)
	f.messages.On("CountSince", mock.Anything, "L2", (*time.Time)(nil), []string{"u1"}).Return(1, nil)

	require.NoError(t, f.engine.Start(context.Background()))
	previews, err := f.engine.Previews(context.Background())
	require.NoError(t, err)
	require.Len(t, previews, 1)

	// The user joined L2 while the app was in the background.
	require.NoError(t, f.engine.SetForeground(context.Background(), true))

	previews, err = f.engine.Previews(context.Background())
	require.NoError(t, err)
	require.Len(t, previews, 2)
	assert.Equal(t, "L2", previews[0].LeagueID)
	assert.Equal(t, 1, f.engine.UnreadSnapshot().Counts["L2"])

	last, ok := f.engine.receipts.LastWritten("L1", "u1")
	require.True(t, ok)
	assert.Equal(t, at(3), last)

	f.src.Publish(messageChange(msg("m3", "L2", "u2", 5)))
	previews, err = f.engine.Previews(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m3", previews[0].MessageID)
	f.messages.AssertExpectations(t)
}

func TestEngineKeepsPresenceForEveryOpenRoom(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.openable("L1", []models.Message{})
	f.openable("L2", []models.Message{})
	f.reads.On("UpsertReceipt", mock.Anything, mock.Anything, "u1", mock.Anything).Return(models.ReadReceipt{}, nil).Maybe()

	_, err := f.engine.OpenLeague(context.Background(), "L1")
	require.NoError(t, err)
	_, err = f.engine.OpenLeague(context.Background(), "L2")
	require.NoError(t, err)

	f.engine.CloseLeague("L2")
	f.presence.AssertCalled(t, "UpsertPresence", mock.Anything, "L2", "u1")
	f.presence.AssertCalled(t, "DeletePresence", mock.Anything, "L2", "u1")
	f.presence.AssertNotCalled(t, "DeletePresence", mock.Anything, "L1", "u1")

	require.NoError(t, f.engine.SetForeground(context.Background(), false))
	f.presence.AssertCalled(t, "UpsertPresence", mock.Anything, "L1", "u1")
	f.presence.AssertCalled(t, "DeletePresence", mock.Anything, "L1", "u1")
}

func TestEngineGuards(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.members.On("IsMember", mock.Anything, "L9", "u1").Return(false, nil)

	_, err := f.engine.OpenLeague(context.Background(), "L9")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.engine.Send(context.Background(), "L1", "hi", nil)
	assert.ErrorIs(t, err, ErrLeagueNotOpen)
	_, err = f.engine.ToggleReaction(context.Background(), "L1", "m1", "👍")
	assert.ErrorIs(t, err, ErrLeagueNotOpen)
	_, err = f.engine.LoadOlder(context.Background(), "L1")
	assert.ErrorIs(t, err, ErrLeagueNotOpen)

	anon := NewEngine(Deps{Manager: realtime.NewManager(realtime.NewMemorySource())}, Options{})
	_, err = anon.OpenLeague(context.Background(), "L1")
	assert.ErrorIs(t, err, ErrAuthUnavailable)
	assert.ErrorIs(t, anon.Start(context.Background()), ErrAuthUnavailable)
}
