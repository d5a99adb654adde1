package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MemberRepository abstracts league membership lookups.
type MemberRepository interface {
	ListLeagueIDs(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, leagueID, userID string) (bool, error)
}

// MemberRepo is a sqlx implementation of MemberRepository.
type MemberRepo struct {
	db *sqlx.DB
}

// NewMemberRepo constructs a MemberRepo.
func NewMemberRepo(db *sqlx.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

// ListLeagueIDs returns the leagues the user belongs to.
func (r *MemberRepo) ListLeagueIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT league_id FROM league_members WHERE user_id=$1 ORDER BY league_id`, userID)
	return ids, err
}

// IsMember checks membership.
func (r *MemberRepo) IsMember(ctx context.Context, leagueID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM league_members WHERE league_id=$1 AND user_id=$2)`, leagueID, userID)
	return exists, err
}
