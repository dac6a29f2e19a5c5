package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

// messageCols: колонки для SELECT из m (messages или CTE) с автором p.
const messageCols = `m.id, m.room_id, m.profile_id, p.full_name, m.text, m.is_read, m.read_time,
	m.is_edited, m.edit_time, m.deleted_by, m.created_at`

const foreignKeyViolation = "23503"

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s rowScanner, m *model.Message) error {
	var deleted []string
	if err := s.Scan(&m.ID, &m.RoomID, &m.ProfileID, &m.Profile.FullName, &m.Text, &m.IsRead, &m.ReadTime,
		&m.IsEdited, &m.EditTime, &deleted, &m.CreatedAt); err != nil {
		return err
	}
	m.Profile.ID = m.ProfileID
	m.DeletedBy = model.NewIDSet(deleted...)
	return nil
}

func collectMessages(rows pgx.Rows, op string) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("messageRepo.%s scan: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.%s rows: %w", op, err)
	}
	return out, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, profile_id, text, is_read, is_edited, deleted_by, created_at)
		 VALUES ($1, $2, $3, $4, false, false, '{}', $5)`,
		m.ID, m.RoomID, m.ProfileID, m.Text, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("messageRepo.Create: %w", storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("messageRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN profiles p ON p.id = m.profile_id WHERE m.id = $1`, id,
	), m)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", mapErr(err))
	}
	return m, nil
}

func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN profiles p ON p.id = m.profile_id
		 WHERE m.room_id = $1 ORDER BY m.created_at, m.id`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByRoom query: %w", err)
	}
	return collectMessages(rows, "ListByRoom")
}

func (r *MessageRepository) LatestVisible(ctx context.Context, roomID, viewerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.LatestVisible", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages m JOIN profiles p ON p.id = m.profile_id
		 WHERE m.room_id = $1 AND NOT ($2 = ANY(m.deleted_by))
		 ORDER BY m.created_at DESC, m.id DESC LIMIT 1`, roomID, viewerID,
	), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("messageRepo.LatestVisible: %w", err)
	}
	return m, nil
}

// updateOne runs a single UPDATE ... RETURNING * wrapped in a CTE so the
// updated row comes back joined with its author.
func (r *MessageRepository) updateOne(ctx context.Context, op, set string, args ...any) (*model.Message, error) {
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`WITH m AS (UPDATE messages SET `+set+` WHERE id = $1 RETURNING *)
		 SELECT `+messageCols+` FROM m JOIN profiles p ON p.id = m.profile_id`, args...,
	), m)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.%s: %w", op, mapErr(err))
	}
	return m, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("message.MarkRead", time.Now())()
	return r.updateOne(ctx, "MarkRead",
		`read_time = CASE WHEN is_read THEN read_time ELSE $2 END, is_read = true`, id, at)
}

func (r *MessageRepository) MarkAllRead(ctx context.Context, roomID string, at time.Time) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.MarkAllRead", time.Now())()
	rows, err := r.pool.Query(ctx,
		`WITH m AS (UPDATE messages SET is_read = true, read_time = $2
		            WHERE room_id = $1 AND NOT is_read RETURNING *)
		 SELECT `+messageCols+` FROM m JOIN profiles p ON p.id = m.profile_id
		 ORDER BY m.created_at, m.id`, roomID, at,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.MarkAllRead query: %w", err)
	}
	return collectMessages(rows, "MarkAllRead")
}

func (r *MessageRepository) UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error) {
	defer logger.DeferLogDuration("message.UpdateText", time.Now())()
	return r.updateOne(ctx, "UpdateText", `text = $2, is_edited = true, edit_time = $3`, id, text, at)
}

func (r *MessageRepository) AddDeletedBy(ctx context.Context, id, profileID string) error {
	defer logger.DeferLogDuration("message.AddDeletedBy", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_by =
		   CASE WHEN $2 = ANY(deleted_by) THEN deleted_by ELSE array_append(deleted_by, $2) END
		 WHERE id = $1`, id, profileID,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.AddDeletedBy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("messageRepo.AddDeletedBy: %w", storage.ErrNotFound)
	}
	return nil
}

// AddDeletedByAll is a single statement, so the room's messages are
// tombstoned for profileID all at once or not at all.
func (r *MessageRepository) AddDeletedByAll(ctx context.Context, roomID, profileID string) (int, error) {
	defer logger.DeferLogDuration("message.AddDeletedByAll", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`WITH u AS (UPDATE messages SET deleted_by = array_append(deleted_by, $2)
		            WHERE room_id = $1 AND NOT ($2 = ANY(deleted_by)) RETURNING id)
		 SELECT count(*) FROM messages WHERE room_id = $1`, roomID, profileID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.AddDeletedByAll: %w", err)
	}
	return n, nil
}

var _ storage.MessageStore = (*MessageRepository)(nil)
