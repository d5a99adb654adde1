package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"league-chat/internal/mocks"
	"league-chat/internal/models"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
)

var me = Session{UserID: "u1", DisplayName: "Coach", Token: "tok"}

func newStore(t *testing.T, repo *mocks.MessageRepositoryMock, pageSize int) (*MessageStore, *realtime.MemorySource) {
	t.Helper()
	src := realtime.NewMemorySource()
	store := NewMessageStore("L1", me, repo, realtime.NewManager(src), pageSize, SendHooks{})
	require.NoError(t, store.Subscribe())
	t.Cleanup(store.Close)
	return store, src
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func cursorAt(seconds int, id string) interface{} {
	return mock.MatchedBy(func(c *models.Cursor) bool {
		return c != nil && c.At.Equal(at(seconds)) && c.ID == id
	})
}

func TestLoadOlderPagesBackwardWithoutDuplicates(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 3)

	repo.On("ListBefore", mock.Anything, "L1", (*models.Cursor)(nil), 3).Return([]models.Message{
		msg("m5", "L1", "u2", 5), msg("m4", "L1", "u2", 4), msg("m3", "L1", "u2", 3),
	}, nil).Once()

	page, err := store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(page.Messages))
	assert.True(t, page.HasMore)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, at(3), page.Cursor.At)
	assert.Equal(t, "m3", page.Cursor.ID)

	repo.On("ListBefore", mock.Anything, "L1", cursorAt(3, "m3"), 3).Return([]models.Message{
		msg("m2", "L1", "u2", 2), msg("m1", "L1", "u2", 1), msg("m0", "L1", "u2", 0),
	}, nil).Once()

	page, err = store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5"}, ids(store.Messages()))

	repo.On("ListBefore", mock.Anything, "L1", cursorAt(0, "m0"), 3).Return([]models.Message{}, nil).Once()

	page, err = store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.False(t, store.HasMore())
	assert.Len(t, store.Messages(), 6)
	repo.AssertExpectations(t)
}

func TestLoadOlderPagesThroughSharedTimestamp(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 2)

	// Three messages written in the same instant span two pages.
	repo.On("ListBefore", mock.Anything, "L1", (*models.Cursor)(nil), 2).
		Return([]models.Message{msg("c", "L1", "u2", 1), msg("b", "L1", "u2", 1)}, nil).Once()
	repo.On("ListBefore", mock.Anything, "L1", cursorAt(1, "b"), 2).
		Return([]models.Message{msg("a", "L1", "u2", 1)}, nil).Once()

	page, err := store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, page.HasMore)

	page, err = store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, []string{"a", "b", "c"}, ids(store.Messages()))
	repo.AssertExpectations(t)
}

func TestLoadOlderAfterCatchUpKeepsPaging(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 3)

	newest := []models.Message{msg("m5", "L1", "u2", 5), msg("m4", "L1", "u2", 4), msg("m3", "L1", "u2", 3)}
	repo.On("ListBefore", mock.Anything, "L1", (*models.Cursor)(nil), 3).
		Return(func(context.Context, string, *models.Cursor, int) []models.Message {
			return append([]models.Message(nil), newest...)
		}, nil)

	// A reconnect fetches the newest page before the view ever paged.
	src.Resync()
	require.Eventually(t, func() bool { return len(store.Messages()) == 3 }, time.Second, 5*time.Millisecond)

	page, err := store.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "m3", page.Cursor.ID)
	assert.Equal(t, []string{"m3", "m4", "m5"}, ids(store.Messages()))
}

func TestLoadOlderTransportError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 3)
	repo.On("ListBefore", mock.Anything, "L1", mock.Anything, 3).Return(nil, errors.New("connection reset"))

	_, err := store.LoadOlder(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Empty(t, store.Messages())
}

func TestLoadOlderHydratesReplies(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 10)

	long := strings.Repeat("é", 100)
	parent := models.Message{ID: "p1", LeagueID: "L1", UserID: "u3", Content: long, CreatedAt: at(-100)}
	child := msg("c1", "L1", "u2", 2)
	child.ReplyToMessageID = strPtr("p1")
	sibling := msg("c2", "L1", "u2", 3)
	sibling.ReplyToMessageID = strPtr("c1")

	repo.On("ListBefore", mock.Anything, "L1", (*models.Cursor)(nil), 10).Return([]models.Message{sibling, child}, nil)
	repo.On("ListByIDs", mock.Anything, []string{"p1"}).Return([]models.Message{parent}, nil).Once()

	_, err := store.LoadOlder(context.Background())
	require.NoError(t, err)

	msgs := store.Messages()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Reply)
	assert.Equal(t, "u3", msgs[0].Reply.AuthorID)
	assert.Equal(t, 80, len([]rune(msgs[0].Reply.Snippet)))
	require.NotNil(t, msgs[1].Reply)
	assert.Equal(t, "c1", msgs[1].Reply.ID)
}

func TestSendReconcilesWithServerRow(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 10)

	var token string
	repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("repositories.NewMessage")).
		Run(func(args mock.Arguments) {
			nm := args.Get(1).(repositories.NewMessage)
			token = nm.ClientToken
			// The placeholder is visible while the write is in flight.
			msgs := store.Messages()
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].IsOptimistic())
			assert.Equal(t, models.StatusSending, msgs[0].Status)
		}).
		Return(func(_ context.Context, nm repositories.NewMessage) models.Message {
			return models.Message{ID: "srv-1", LeagueID: "L1", UserID: "u1", Content: nm.Content, CreatedAt: at(10), ClientToken: strPtr(nm.ClientToken)}
		}, nil).Once()

	saved, err := store.Send(context.Background(), "  trade talk  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID)
	assert.Equal(t, "trade talk", saved.Content)
	assert.NotEmpty(t, token)

	echo := saved
	src.Publish(messageChange(echo))
	assert.Equal(t, []string{"srv-1"}, ids(store.Messages()))
}

func TestSendOutlivesCancelledRequest(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 10)

	ctx, cancel := context.WithCancel(context.Background())
	repo.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// The client hangs up while the insert is in flight.
			cancel()
			writeCtx := args.Get(0).(context.Context)
			assert.NoError(t, writeCtx.Err())
			_, hasDeadline := writeCtx.Deadline()
			assert.True(t, hasDeadline)
		}).
		Return(models.Message{ID: "srv-1", LeagueID: "L1", UserID: "u1", Content: "late", CreatedAt: at(10)}, nil).Once()

	saved, err := store.Send(ctx, "late", nil)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", saved.ID)
	assert.Equal(t, models.StatusPersisted, saved.Status)
	assert.Equal(t, []string{"srv-1"}, ids(store.Messages()))
}

func TestSendEchoArrivesBeforeResponse(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 10)

	repo.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			nm := args.Get(1).(repositories.NewMessage)
			echo := models.Message{ID: "srv-1", LeagueID: "L1", UserID: "u1", Content: nm.Content, CreatedAt: at(10), ClientToken: strPtr(nm.ClientToken)}
			src.Publish(messageChange(echo))
			assert.Equal(t, []string{"srv-1"}, ids(store.Messages()))
		}).
		Return(func(_ context.Context, nm repositories.NewMessage) models.Message {
			return models.Message{ID: "srv-1", LeagueID: "L1", UserID: "u1", Content: nm.Content, CreatedAt: at(10), ClientToken: strPtr(nm.ClientToken)}
		}, nil).Once()

	_, err := store.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-1"}, ids(store.Messages()))
}

func TestSendFailureThenRetry(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 10)

	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("offline")).Once()
	failed, err := store.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, failed.Status)
	assert.True(t, failed.IsOptimistic())

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusError, msgs[0].Status)

	repo.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{ID: "srv-2", LeagueID: "L1", UserID: "u1", Content: "hello", CreatedAt: at(20)}, nil).Once()
	saved, err := store.Retry(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv-2", saved.ID)
	assert.Equal(t, []string{"srv-2"}, ids(store.Messages()))

	_, err = store.Retry(context.Background(), "srv-2")
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestSendValidation(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, _ := newStore(t, repo, 10)

	_, err := store.Send(context.Background(), "   \n", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	anon := NewMessageStore("L1", Session{}, repo, realtime.NewManager(realtime.NewMemorySource()), 10, SendHooks{})
	_, err = anon.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrAuthUnavailable)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSendHooks(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	var sent, failed []models.Message
	store := NewMessageStore("L1", me, repo, realtime.NewManager(realtime.NewMemorySource()), 10, SendHooks{
		OnSent:   func(m models.Message) { sent = append(sent, m) },
		OnFailed: func(m models.Message, _ error) { failed = append(failed, m) },
	})

	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(msg("srv-1", "L1", "u1", 1), nil).Once()
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	_, err := store.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	_, err = store.Send(context.Background(), "two", nil)
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Equal(t, "srv-1", sent[0].ID)
	require.Len(t, failed, 1)
	assert.Equal(t, "two", failed[0].Content)
}

func TestRemoteInsertOrderingAndDedupe(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 10)

	var remote []string
	store.OnRemoteMessage(func(m models.Message) { remote = append(remote, m.ID) })

	src.Publish(messageChange(msg("b", "L1", "u2", 5)))
	src.Publish(messageChange(msg("c", "L1", "u2", 3)))
	src.Publish(messageChange(msg("a", "L1", "u2", 5)))
	src.Publish(messageChange(msg("a", "L1", "u2", 5)))
	src.Publish(messageChange(msg("mine", "L1", "u1", 6)))
	src.Publish(messageChange(msg("x", "L2", "u2", 1)))

	assert.Equal(t, []string{"c", "a", "b", "mine"}, ids(store.Messages()))
	assert.Equal(t, []string{"b", "c", "a"}, remote)

	newest, ok := store.Newest()
	require.True(t, ok)
	assert.Equal(t, at(6), newest)
}

func TestPartialInsertFetchesFullRow(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 10)

	long := msg("big", "L1", "u2", 4)
	long.Content = strings.Repeat("x", 9000)
	repo.On("ListByIDs", mock.Anything, []string{"big"}).Return([]models.Message{long}, nil).Once()

	src.Publish(partialMessageChange(long))

	require.Eventually(t, func() bool { return len(store.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, long.Content, store.Messages()[0].Content)
	repo.AssertExpectations(t)
}

func TestResyncCatchUpMergesMissedMessages(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	store, src := newStore(t, repo, 10)

	src.Publish(messageChange(msg("m1", "L1", "u2", 1)))
	repo.On("ListBefore", mock.Anything, "L1", (*models.Cursor)(nil), 10).Return([]models.Message{
		msg("m3", "L1", "u2", 3), msg("m2", "L1", "u2", 2), msg("m1", "L1", "u2", 1),
	}, nil).Once()

	var remote []string
	var mu sync.Mutex
	store.OnRemoteMessage(func(m models.Message) {
		mu.Lock()
		remote = append(remote, m.ID)
		mu.Unlock()
	})

	src.Resync()

	require.Eventually(t, func() bool { return len(store.Messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(store.Messages()))
	mu.Lock()
	assert.Equal(t, []string{"m2", "m3"}, remote)
	mu.Unlock()
}
