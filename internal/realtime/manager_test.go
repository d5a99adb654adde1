package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"league-chat/internal/models"
)

func messageInsert(id, league string) Change {
	row, _ := json.Marshal(map[string]any{
		"id":         id,
		"league_id":  league,
		"user_id":    "u2",
		"content":    "hi",
		"created_at": "2024-03-01T10:00:00.123456+00:00",
	})
	return Change{Table: TableMessages, Op: OpInsert, New: row}
}

func TestManagerSharesUpstreamPerTopic(t *testing.T) {
	src := NewMemorySource()
	m := NewManager(src)
	topic := Eq(TableMessages, "league_id", "L1", OpInsert)

	var storeHits, unreadHits int
	s1, err := m.Subscribe("store", topic, func(Change) { storeHits++ })
	require.NoError(t, err)
	s2, err := m.Subscribe("unread", topic, func(Change) { unreadHits++ })
	require.NoError(t, err)

	assert.Equal(t, 1, src.Watches())
	assert.Equal(t, 1, m.Active())

	src.Publish(messageInsert("m1", "L1"))
	src.Publish(messageInsert("m2", "L2"))
	assert.Equal(t, 1, storeHits)
	assert.Equal(t, 1, unreadHits)

	s1.Close()
	assert.Equal(t, 1, src.Open())
	s2.Close()
	s2.Close()
	assert.Equal(t, 0, src.Open())
	assert.Equal(t, 0, m.Active())
}

func TestManagerRejectsDuplicateConsumer(t *testing.T) {
	m := NewManager(NewMemorySource())
	topic := Eq(TableReads, "user_id", "u1")

	_, err := m.Subscribe("unread", topic, func(Change) {})
	require.NoError(t, err)
	_, err = m.Subscribe("unread", topic, func(Change) {})
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
}

func TestTopicFilters(t *testing.T) {
	insertOnly := Eq(TableMessages, "league_id", "L1", OpInsert)
	update := messageInsert("m1", "L1")
	update.Op = OpUpdate
	assert.False(t, insertOnly.Matches(update))
	assert.True(t, insertOnly.Matches(messageInsert("m1", "L1")))

	set := In(TableReactions, "message_id", []string{"b", "a"})
	assert.Equal(t, "message_reactions:message_id=in.(a,b)", set.Key())
	row := json.RawMessage(`{"message_id":"a","user_id":"u1","emoji":"👍"}`)
	assert.True(t, set.Matches(Change{Table: TableReactions, Op: OpDelete, Old: row}))
	assert.False(t, set.Matches(Change{Table: TableReactions, Op: OpInsert, New: json.RawMessage(`{"message_id":"c"}`)}))
}

func TestDecodeMessageVariants(t *testing.T) {
	ev, err := Decode(messageInsert("m1", "L1"), ParseMessage)
	require.NoError(t, err)

	switch e := ev.(type) {
	case Inserted[models.Message]:
		assert.Equal(t, "m1", e.Row.ID)
		assert.Equal(t, int64(1709287200123), e.Row.CreatedAt.UnixMilli())
	default:
		t.Fatalf("unexpected event %T", ev)
	}

	ev, err = Decode(Change{Table: TableMessages, Op: OpResync}, ParseMessage)
	require.NoError(t, err)
	assert.IsType(t, Resync[models.Message]{}, ev)

	_, err = Decode(Change{Table: TableMessages, Op: "TRUNCATE"}, ParseMessage)
	assert.Error(t, err)
}

func TestDecodeReadReceiptWithoutZone(t *testing.T) {
	row := json.RawMessage(`{"league_id":"L1","user_id":"u1","last_read_at":"2024-03-01T10:00:00.5"}`)
	ev, err := Decode(Change{Table: TableReads, Op: OpUpdate, New: row}, ParseReadReceipt)
	require.NoError(t, err)
	up, ok := ev.(Updated[models.ReadReceipt])
	require.True(t, ok)
	assert.Equal(t, "L1", up.Row.LeagueID)
	assert.Equal(t, 500000000, up.Row.LastReadAt.Nanosecond())
}
