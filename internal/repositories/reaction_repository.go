package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"league-chat/internal/models"
)

// ReactionRepository abstracts reaction persistence.
type ReactionRepository interface {
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// ToggleReaction deletes the (message, user, emoji) fact if it exists and
// inserts it otherwise. It reports whether the reaction is now present.
func (r *ReactionRepo) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		if _, err = tx.ExecContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
            ON CONFLICT (message_id, user_id, emoji) DO NOTHING`, messageID, userID, emoji); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return removed == 0, nil
}

// ListForMessages returns every reaction on the given messages.
func (r *ReactionRepo) ListForMessages(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT message_id, user_id, emoji FROM message_reactions WHERE message_id::text IN (?)`, messageIDs)
	if err != nil {
		return nil, err
	}
	var reactions []models.Reaction
	err = r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...)
	return reactions, err
}
