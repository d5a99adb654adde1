package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"league-chat/internal/models"
)

const messageColumns = `id, league_id, user_id, content, created_at, reply_to_message_id, client_token`

// createdAfter compares at millisecond precision, the precision read
// watermarks are kept at, so both unread strategies count the same rows.
const createdAfter = `date_trunc('milliseconds', created_at) > date_trunc('milliseconds', ?::timestamptz)`

// NewMessage is the insert payload for a league message.
type NewMessage struct {
	LeagueID    string
	UserID      string
	Content     string
	ReplyToID   *string
	ClientToken string
}

// MessageRepository defines interactions for league messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg NewMessage) (models.Message, error)
	ListBefore(ctx context.Context, leagueID string, before *models.Cursor, limit int) ([]models.Message, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Message, error)
	LatestPerLeague(ctx context.Context, leagueIDs []string) ([]models.InboxPreview, error)
	ListSince(ctx context.Context, leagueIDs []string, since time.Time, excludeAuthors []string) ([]models.MessageStamp, error)
	CountSince(ctx context.Context, leagueID string, since *time.Time, excludeAuthors []string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the persisted row.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg NewMessage) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (league_id, user_id, content, reply_to_message_id, client_token)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		msg.LeagueID, msg.UserID, msg.Content, msg.ReplyToID, msg.ClientToken).StructScan(&out)
	return out, err
}

// ListBefore returns up to limit messages newest-first, strictly before the
// cursor in (created_at, id) order.
func (r *MessageRepo) ListBefore(ctx context.Context, leagueID string, before *models.Cursor, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if before == nil {
		err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE league_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, leagueID, limit)
		return msgs, err
	}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE league_id=$1 AND (created_at, id) < ($2, $3::uuid)
        ORDER BY created_at DESC, id DESC LIMIT $4`, leagueID, before.At, before.ID, limit)
	return msgs, err
}

// ListByIDs fetches messages by id, in no particular order.
func (r *MessageRepo) ListByIDs(ctx context.Context, ids []string) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages WHERE id::text IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var msgs []models.Message
	err = r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...)
	return msgs, err
}

// LatestPerLeague returns the newest message of each league that has one.
func (r *MessageRepo) LatestPerLeague(ctx context.Context, leagueIDs []string) ([]models.InboxPreview, error) {
	if len(leagueIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT DISTINCT ON (league_id) league_id, id, user_id, content, created_at
        FROM messages WHERE league_id IN (?) ORDER BY league_id, created_at DESC, id DESC`, leagueIDs)
	if err != nil {
		return nil, err
	}
	var previews []models.InboxPreview
	err = r.db.SelectContext(ctx, &previews, r.db.Rebind(query), args...)
	return previews, err
}

// ListSince returns (league, created_at) of messages newer than since across
// leagues, skipping excluded authors.
func (r *MessageRepo) ListSince(ctx context.Context, leagueIDs []string, since time.Time, excludeAuthors []string) ([]models.MessageStamp, error) {
	if len(leagueIDs) == 0 {
		return nil, nil
	}
	query, args, err := listSinceQuery(leagueIDs, since, excludeAuthors)
	if err != nil {
		return nil, err
	}
	var stamps []models.MessageStamp
	err = r.db.SelectContext(ctx, &stamps, r.db.Rebind(query), args...)
	return stamps, err
}

// CountSince counts league messages newer than since (all of them when since
// is nil), skipping excluded authors.
func (r *MessageRepo) CountSince(ctx context.Context, leagueID string, since *time.Time, excludeAuthors []string) (int, error) {
	query, args, err := countSinceQuery(leagueID, since, excludeAuthors)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.db.GetContext(ctx, &count, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

func listSinceQuery(leagueIDs []string, since time.Time, excludeAuthors []string) (string, []interface{}, error) {
	return sqlx.In(`SELECT league_id, created_at FROM messages
        WHERE league_id IN (?) AND `+createdAfter+` AND user_id NOT IN (?)`, leagueIDs, since, nonEmpty(excludeAuthors))
}

func countSinceQuery(leagueID string, since *time.Time, excludeAuthors []string) (string, []interface{}, error) {
	base := `SELECT COUNT(*) FROM messages WHERE league_id = ? AND user_id NOT IN (?)`
	params := []interface{}{leagueID, nonEmpty(excludeAuthors)}
	if since != nil {
		base += ` AND ` + createdAfter
		params = append(params, *since)
	}
	return sqlx.In(base, params...)
}

// nonEmpty keeps NOT IN (...) valid when nothing is excluded.
func nonEmpty(ids []string) []string {
	if len(ids) == 0 {
		return []string{""}
	}
	return ids
}
