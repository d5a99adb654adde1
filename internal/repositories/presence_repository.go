package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PresenceRepository abstracts presence persistence.
type PresenceRepository interface {
	UpsertPresence(ctx context.Context, leagueID, userID string) error
	DeletePresence(ctx context.Context, leagueID, userID string) error
	ActiveUserIDs(ctx context.Context, leagueID string, since time.Time) ([]string, error)
}

// PresenceRepo is a sqlx implementation of PresenceRepository.
type PresenceRepo struct {
	db *sqlx.DB
}

// NewPresenceRepo constructs a PresenceRepo.
func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// UpsertPresence refreshes last_seen for (league, user).
func (r *PresenceRepo) UpsertPresence(ctx context.Context, leagueID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO presence (league_id, user_id, last_seen) VALUES ($1, $2, NOW())
        ON CONFLICT (league_id, user_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`, leagueID, userID)
	return err
}

// DeletePresence removes the record for (league, user).
func (r *PresenceRepo) DeletePresence(ctx context.Context, leagueID, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM presence WHERE league_id=$1 AND user_id=$2`, leagueID, userID)
	return err
}

// ActiveUserIDs lists users seen in the league since the given time.
func (r *PresenceRepo) ActiveUserIDs(ctx context.Context, leagueID string, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM presence WHERE league_id=$1 AND last_seen >= $2 ORDER BY user_id`, leagueID, since)
	return ids, err
}
