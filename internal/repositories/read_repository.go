package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"league-chat/internal/models"
)

// ReadRepository abstracts read-receipt persistence.
type ReadRepository interface {
	ListForUser(ctx context.Context, userID string) ([]models.ReadReceipt, error)
	UpsertReceipt(ctx context.Context, leagueID, userID string, at time.Time) (models.ReadReceipt, error)
}

// ReadRepo is a sqlx implementation of ReadRepository.
type ReadRepo struct {
	db *sqlx.DB
}

// NewReadRepo constructs a ReadRepo.
func NewReadRepo(db *sqlx.DB) *ReadRepo {
	return &ReadRepo{db: db}
}

// ListForUser returns every receipt the user has.
func (r *ReadRepo) ListForUser(ctx context.Context, userID string) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts, `SELECT league_id, user_id, last_read_at FROM message_reads WHERE user_id=$1`, userID)
	return receipts, err
}

// UpsertReceipt records a read watermark. The stored value never decreases.
func (r *ReadRepo) UpsertReceipt(ctx context.Context, leagueID, userID string, at time.Time) (models.ReadReceipt, error) {
	var receipt models.ReadReceipt
	err := r.db.QueryRowxContext(ctx, `INSERT INTO message_reads (league_id, user_id, last_read_at) VALUES ($1, $2, $3)
        ON CONFLICT (league_id, user_id) DO UPDATE SET last_read_at = GREATEST(message_reads.last_read_at, EXCLUDED.last_read_at)
        RETURNING league_id, user_id, last_read_at`, leagueID, userID, at).StructScan(&receipt)
	return receipt, err
}
