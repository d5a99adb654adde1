package realtime

import (
	"encoding/json"
	"fmt"

	"league-chat/internal/models"
)

// Event is a typed row change. Handlers switch on the concrete variant.
type Event[T any] interface {
	isEvent()
}

// Inserted carries the new row.
type Inserted[T any] struct{ Row T }

// Updated carries the new and previous rows.
type Updated[T any] struct{ Row, Old T }

// Deleted carries the removed row.
type Deleted[T any] struct{ Old T }

// Resync tells the handler that events may have been lost.
type Resync[T any] struct{}

func (Inserted[T]) isEvent() {}
func (Updated[T]) isEvent()  {}
func (Deleted[T]) isEvent()  {}
func (Resync[T]) isEvent()   {}

// Decode converts a raw change into its typed variant.
func Decode[T any](c Change, parse func(json.RawMessage) (T, error)) (Event[T], error) {
	switch c.Op {
	case OpInsert:
		row, err := parse(c.New)
		if err != nil {
			return nil, err
		}
		return Inserted[T]{Row: row}, nil
	case OpUpdate:
		row, err := parse(c.New)
		if err != nil {
			return nil, err
		}
		var old T
		if len(c.Old) > 0 {
			if old, err = parse(c.Old); err != nil {
				return nil, err
			}
		}
		return Updated[T]{Row: row, Old: old}, nil
	case OpDelete:
		old, err := parse(c.Old)
		if err != nil {
			return nil, err
		}
		return Deleted[T]{Old: old}, nil
	case OpResync:
		return Resync[T]{}, nil
	default:
		return nil, fmt.Errorf("unknown op %q on %s", c.Op, c.Table)
	}
}

type messageRow struct {
	ID               string  `json:"id"`
	LeagueID         string  `json:"league_id"`
	UserID           string  `json:"user_id"`
	Content          string  `json:"content"`
	CreatedAt        string  `json:"created_at"`
	ReplyToMessageID *string `json:"reply_to_message_id"`
	ClientToken      *string `json:"client_token"`
}

// ParseMessage decodes a messages row.
func ParseMessage(raw json.RawMessage) (models.Message, error) {
	var row messageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.Message{}, fmt.Errorf("decode message row: %w", err)
	}
	created, err := models.ParseTimestamp(row.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:               row.ID,
		LeagueID:         row.LeagueID,
		UserID:           row.UserID,
		Content:          row.Content,
		CreatedAt:        created,
		ReplyToMessageID: row.ReplyToMessageID,
		ClientToken:      row.ClientToken,
	}, nil
}

type readRow struct {
	LeagueID   string `json:"league_id"`
	UserID     string `json:"user_id"`
	LastReadAt string `json:"last_read_at"`
}

// ParseReadReceipt decodes a message_reads row.
func ParseReadReceipt(raw json.RawMessage) (models.ReadReceipt, error) {
	var row readRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return models.ReadReceipt{}, fmt.Errorf("decode read row: %w", err)
	}
	at, err := models.ParseTimestamp(row.LastReadAt)
	if err != nil {
		return models.ReadReceipt{}, err
	}
	return models.ReadReceipt{LeagueID: row.LeagueID, UserID: row.UserID, LastReadAt: at}, nil
}

// ParseReaction decodes a message_reactions row.
func ParseReaction(raw json.RawMessage) (models.Reaction, error) {
	var r models.Reaction
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Reaction{}, fmt.Errorf("decode reaction row: %w", err)
	}
	return r, nil
}
