package models

import (
	"strings"
	"time"
)

// MessageStatus is the client-side lifecycle of a message. Persisted messages
// carry the empty status.
type MessageStatus string

const (
	StatusPersisted MessageStatus = ""
	StatusSending   MessageStatus = "sending"
	StatusError     MessageStatus = "error"
)

// OptimisticPrefix marks client-assigned placeholder ids.
const OptimisticPrefix = "optimistic-"

// ReplyRef is the display form of a reply target.
type ReplyRef struct {
	ID       string `json:"id"`
	Snippet  string `json:"snippet"`
	AuthorID string `json:"author_id"`
}

// Message represents a league chat message.
type Message struct {
	ID               string        `db:"id" json:"id"`
	LeagueID         string        `db:"league_id" json:"league_id"`
	UserID           string        `db:"user_id" json:"user_id"`
	Content          string        `db:"content" json:"content"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	ReplyToMessageID *string       `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`
	ClientToken      *string       `db:"client_token" json:"client_token,omitempty"`
	Reply            *ReplyRef     `db:"-" json:"reply,omitempty"`
	Status           MessageStatus `db:"-" json:"status,omitempty"`
}

// IsOptimistic reports whether the message is a not-yet-persisted placeholder.
func (m Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, OptimisticPrefix)
}

// Before orders messages by creation time, then id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Cursor is the keyset position of the oldest paged message. The next page
// holds the messages strictly before (At, ID).
type Cursor struct {
	At time.Time `json:"at"`
	ID string    `json:"id"`
}

// CursorOf returns the cursor positioned at m.
func CursorOf(m Message) *Cursor {
	return &Cursor{At: m.CreatedAt, ID: m.ID}
}

// Page is one backward-fetched batch of messages, ascending.
type Page struct {
	Messages []Message `json:"messages"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	HasMore  bool      `json:"has_more"`
}

// MessageStamp is the projection used for unread counting.
type MessageStamp struct {
	LeagueID  string    `db:"league_id"`
	CreatedAt time.Time `db:"created_at"`
}

// RoomEvent is pushed to websocket clients when a league log changes.
type RoomEvent struct {
	Type     string    `json:"type"`
	LeagueID string    `json:"league_id"`
	Messages []Message `json:"messages,omitempty"`
}

// MessageView is a message with its grouped reactions, as rendered by clients.
type MessageView struct {
	Message
	Reactions []ReactionSummary `json:"reactions,omitempty"`
}
