package models

import "time"

// InboxPreview is the latest message snapshot of a league, for list views.
type InboxPreview struct {
	LeagueID  string    `db:"league_id" json:"league_id"`
	MessageID string    `db:"id" json:"message_id"`
	AuthorID  string    `db:"user_id" json:"author_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PreviewFromMessage projects a message into its inbox preview.
func PreviewFromMessage(m Message) InboxPreview {
	return InboxPreview{
		LeagueID:  m.LeagueID,
		MessageID: m.ID,
		AuthorID:  m.UserID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// InboxEvent is pushed to websocket clients when a preview changes.
type InboxEvent struct {
	Type    string       `json:"type"`
	Preview InboxPreview `json:"preview"`
}
