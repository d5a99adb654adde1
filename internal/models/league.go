package models

import "time"

// ReadReceipt is the per-user, per-league read watermark.
type ReadReceipt struct {
	LeagueID   string    `db:"league_id" json:"league_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	LastReadAt time.Time `db:"last_read_at" json:"last_read_at"`
}

// Membership links a user to a league.
type Membership struct {
	LeagueID string `db:"league_id" json:"league_id"`
	UserID   string `db:"user_id" json:"user_id"`
}

// UnreadEvent is pushed to websocket clients when unread counts change.
type UnreadEvent struct {
	Type   string            `json:"type"`
	Counts map[string]int    `json:"counts"`
	Badges map[string]string `json:"badges"`
	Total  int               `json:"total"`
}
