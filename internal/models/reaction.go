package models

// Reaction is the fact that a user reacted to a message with an emoji.
type Reaction struct {
	MessageID string `db:"message_id" json:"message_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Emoji     string `db:"emoji" json:"emoji"`
}

// ReactionSummary is the per-emoji aggregate shown under a message.
type ReactionSummary struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	ReactedByMe bool   `json:"reacted_by_me"`
}
