package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const roomSelect = `SELECT r.id, r.archived_by, r.deleted_by, r.created_at,
	g.id, g.name, g.is_admin_only, g.admin_id, a.full_name
	FROM rooms r
	LEFT JOIN groups g ON g.room_id = r.id
	LEFT JOIN profiles a ON a.id = g.admin_id`

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRoom(s rowScanner, room *model.Room) error {
	var archived, deleted []string
	var groupID, name, adminID, adminName *string
	var adminOnly *bool
	if err := s.Scan(&room.ID, &archived, &deleted, &room.CreatedAt,
		&groupID, &name, &adminOnly, &adminID, &adminName); err != nil {
		return err
	}
	room.ArchivedBy = model.NewIDSet(archived...)
	room.DeletedBy = model.NewIDSet(deleted...)
	if groupID != nil {
		room.Group = &model.Group{
			ID:          *groupID,
			Name:        deref(name),
			IsAdminOnly: adminOnly != nil && *adminOnly,
			Admin:       model.ProfileRef{ID: deref(adminID), FullName: deref(adminName)},
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *RoomRepository) getOne(ctx context.Context, op, where string, arg any) (*model.Room, error) {
	room := &model.Room{}
	if err := scanRoom(r.pool.QueryRow(ctx, roomSelect+` WHERE `+where, arg), room); err != nil {
		return nil, fmt.Errorf("roomRepo.%s: %w", op, mapErr(err))
	}
	rooms := []model.Room{*room}
	if err := r.attachMembers(ctx, rooms); err != nil {
		return nil, fmt.Errorf("roomRepo.%s: %w", op, err)
	}
	return &rooms[0], nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	return r.getOne(ctx, "GetByID", `r.id = $1`, id)
}

func (r *RoomRepository) FindDirect(ctx context.Context, a, b string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.FindDirect", time.Now())()
	return r.getOne(ctx, "FindDirect", `r.direct_key = $1`, model.DirectKey(a, b))
}

// CreateDirect relies on UNIQUE(direct_key): the loser of a concurrent insert
// gets storage.ErrConflict.
func (r *RoomRepository) CreateDirect(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.CreateDirect", time.Now())()
	ids := room.MemberIDs()
	if len(ids) != 2 {
		return fmt.Errorf("roomRepo.CreateDirect: want 2 members, got %d", len(ids))
	}
	key := model.DirectKey(ids[0], ids[1])
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, direct_key, created_at) VALUES ($1, $2, $3)`,
			room.ID, key, room.CreatedAt,
		); err != nil {
			return mapErr(err)
		}
		return insertMembers(ctx, tx, room.ID, ids, room.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("roomRepo.CreateDirect: %w", err)
	}
	return nil
}

func (r *RoomRepository) CreateGroup(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.CreateGroup", time.Now())()
	if room.Group == nil {
		return fmt.Errorf("roomRepo.CreateGroup: room %s has no group", room.ID)
	}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, created_at) VALUES ($1, $2)`,
			room.ID, room.CreatedAt,
		); err != nil {
			return mapErr(err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO groups (room_id, id, name, is_admin_only, admin_id) VALUES ($1, $2, $3, $4, $5)`,
			room.ID, room.Group.ID, room.Group.Name, room.Group.IsAdminOnly, room.Group.Admin.ID,
		); err != nil {
			return mapErr(err)
		}
		return insertMembers(ctx, tx, room.ID, room.MemberIDs(), room.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("roomRepo.CreateGroup: %w", err)
	}
	return nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, roomID string, ids []string, at time.Time) error {
	for _, id := range ids {
		if _, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, profile_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			roomID, id, at,
		); err != nil {
			return fmt.Errorf("insert member %s: %w", id, err)
		}
	}
	return nil
}

func (r *RoomRepository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *RoomRepository) ListForProfile(ctx context.Context, profileID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListForProfile", time.Now())()
	rows, err := r.pool.Query(ctx,
		roomSelect+` WHERE r.id IN (SELECT room_id FROM room_members WHERE profile_id = $1)
		 ORDER BY r.created_at DESC`, profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListForProfile query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		var room model.Room
		if err := scanRoom(rows, &room); err != nil {
			return nil, fmt.Errorf("roomRepo.ListForProfile scan: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListForProfile rows: %w", err)
	}
	if err := r.attachMembers(ctx, rooms); err != nil {
		return nil, fmt.Errorf("roomRepo.ListForProfile: %w", err)
	}
	return rooms, nil
}

// attachMembers loads members of all rooms in one query.
func (r *RoomRepository) attachMembers(ctx context.Context, rooms []model.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	ids := make([]string, len(rooms))
	index := make(map[string]int, len(rooms))
	for i := range rooms {
		ids[i] = rooms[i].ID
		index[rooms[i].ID] = i
		rooms[i].Members = make([]model.Profile, 0, 2)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT rm.room_id, p.id, p.user_id, p.full_name, p.is_online
		 FROM room_members rm
		 JOIN profiles p ON p.id = rm.profile_id
		 WHERE rm.room_id = ANY($1)
		 ORDER BY rm.joined_at, p.id`, ids,
	)
	if err != nil {
		return fmt.Errorf("members query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roomID string
		var p model.Profile
		if err := rows.Scan(&roomID, &p.ID, &p.UserID, &p.FullName, &p.IsOnline); err != nil {
			return fmt.Errorf("members scan: %w", err)
		}
		i := index[roomID]
		rooms[i].Members = append(rooms[i].Members, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("members rows: %w", err)
	}
	return nil
}

func (r *RoomRepository) AddArchivedBy(ctx context.Context, roomID, profileID string) error {
	defer logger.DeferLogDuration("room.AddArchivedBy", time.Now())()
	return r.addToSet(ctx, "AddArchivedBy", `UPDATE rooms SET archived_by =
		CASE WHEN $2 = ANY(archived_by) THEN archived_by ELSE array_append(archived_by, $2) END
		WHERE id = $1`, roomID, profileID)
}

func (r *RoomRepository) AddDeletedBy(ctx context.Context, roomID, profileID string) error {
	defer logger.DeferLogDuration("room.AddDeletedBy", time.Now())()
	return r.addToSet(ctx, "AddDeletedBy", `UPDATE rooms SET deleted_by =
		CASE WHEN $2 = ANY(deleted_by) THEN deleted_by ELSE array_append(deleted_by, $2) END
		WHERE id = $1`, roomID, profileID)
}

func (r *RoomRepository) addToSet(ctx context.Context, op, query, roomID, profileID string) error {
	tag, err := r.pool.Exec(ctx, query, roomID, profileID)
	if err != nil {
		return fmt.Errorf("roomRepo.%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("roomRepo.%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

var _ storage.RoomStore = (*RoomRepository)(nil)
