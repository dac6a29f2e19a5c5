package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

const profileCols = `id, user_id, full_name, is_online`

// ProfileRepository is the Postgres side of the profile directory.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func scanProfile(s rowScanner, p *model.Profile) error {
	return s.Scan(&p.ID, &p.UserID, &p.FullName, &p.IsOnline)
}

// Upsert is used to seed the directory in -dev mode and tests.
func (r *ProfileRepository) Upsert(ctx context.Context, p *model.Profile) error {
	defer logger.DeferLogDuration("profile.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, user_id, full_name, is_online) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, full_name = EXCLUDED.full_name`,
		p.ID, p.UserID, p.FullName, p.IsOnline,
	)
	if err != nil {
		return fmt.Errorf("profileRepo.Upsert: %w", err)
	}
	return nil
}

func (r *ProfileRepository) ResolveProfileByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	defer logger.DeferLogDuration("profile.ResolveProfileByUserID", time.Now())()
	p := &model.Profile{}
	err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE user_id = $1`, userID), p)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.ResolveProfileByUserID: %w", mapErr(err))
	}
	return p, nil
}

func (r *ProfileRepository) GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetProfiles", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetProfiles query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Profile, 0, len(ids))
	for rows.Next() {
		var p model.Profile
		if err := scanProfile(rows, &p); err != nil {
			return nil, fmt.Errorf("profileRepo.GetProfiles scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.GetProfiles rows: %w", err)
	}
	return out, nil
}

func (r *ProfileRepository) SetOnline(ctx context.Context, profileID string, online bool) error {
	defer logger.DeferLogDuration("profile.SetOnline", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET is_online = $1 WHERE id = $2`, online, profileID)
	if err != nil {
		return fmt.Errorf("profileRepo.SetOnline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profileRepo.SetOnline: %w", storage.ErrNotFound)
	}
	return nil
}

func (r *ProfileRepository) OnlineAmong(ctx context.Context, ids []string) ([]string, error) {
	defer logger.DeferLogDuration("profile.OnlineAmong", time.Now())()
	if len(ids) == 0 {
		return []string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM profiles WHERE id = ANY($1) AND is_online ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.OnlineAmong query: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("profileRepo.OnlineAmong scan: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.OnlineAmong rows: %w", err)
	}
	return out, nil
}

// ResetOnline сбрасывает флаги присутствия после рестарта процесса.
func (r *ProfileRepository) ResetOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("profile.ResetOnline", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE profiles SET is_online = false`); err != nil {
		return fmt.Errorf("profileRepo.ResetOnline: %w", err)
	}
	return nil
}

var _ storage.Directory = (*ProfileRepository)(nil)
