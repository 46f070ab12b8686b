// Package store persists generation records and admin settings in Postgres.
// Status writes are guarded in SQL so a record can only move forward.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("record already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const recordColumns = `id, korean_prompt, english_prompt, user_email, status, model, aspect_ratio,
	video_url, thumbnail_url, gcs_uri, duration, resolution, error_message, retry_count,
	created_at, updated_at, completed_at`

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger.Named("store")}
}

// CreateRecord inserts r as pending and fills in its timestamps.
func (s *Store) CreateRecord(ctx context.Context, r *models.Record) error {
	r.Status = models.StatusPending
	query := `
		INSERT INTO video_generations (id, korean_prompt, user_email, status, model, aspect_ratio)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, query, r.ID, r.KoreanPrompt, r.UserEmail, string(r.Status), r.Model, r.AspectRatio).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.ID)
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM video_generations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[models.Record])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return rec, nil
}

// AdvanceStatus moves id to `to` if its current status allows it.
func (s *Store) AdvanceStatus(ctx context.Context, id string, to models.Status) error {
	query := `
		UPDATE video_generations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`
	tag, err := s.pool.Exec(ctx, query, id, string(to), predecessors(to))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, to)
	}
	s.logger.Debug("status updated", zap.String("id", id), zap.String("status", string(to)))
	return nil
}

func (s *Store) SetEnglishPrompt(ctx context.Context, id, prompt string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE video_generations SET english_prompt = $2, updated_at = NOW() WHERE id = $1`,
		id, prompt)
	if err != nil {
		return fmt.Errorf("failed to store english prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Complete marks id completed with its media. completed_at is written once.
func (s *Store) Complete(ctx context.Context, id string, m models.Media) error {
	var resolution *string
	if m.Resolution != nil && models.ValidResolution(*m.Resolution) {
		resolution = m.Resolution
	}
	var duration *int
	if m.Duration != nil && models.ValidDuration(*m.Duration) {
		duration = m.Duration
	}
	query := `
		UPDATE video_generations
		SET status = $2,
			video_url = $3,
			thumbnail_url = $4,
			gcs_uri = $5,
			duration = $6,
			resolution = $7,
			error_message = '',
			completed_at = COALESCE(completed_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($8)
	`
	tag, err := s.pool.Exec(ctx, query, id, string(models.StatusCompleted),
		m.VideoURL, m.ThumbnailURL, m.GCSURI, duration, resolution,
		predecessors(models.StatusCompleted))
	if err != nil {
		return fmt.Errorf("failed to complete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, models.StatusCompleted)
	}
	return nil
}

// Fail moves a non-terminal record to error with message.
func (s *Store) Fail(ctx context.Context, id, message string) error {
	query := `
		UPDATE video_generations
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
	`
	tag, err := s.pool.Exec(ctx, query, id, string(models.StatusError), message, predecessors(models.StatusError))
	if err != nil {
		return fmt.Errorf("failed to mark record as failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, models.StatusError)
	}
	return nil
}

// UpdateResolution ignores values that do not look like WIDTHxHEIGHT.
func (s *Store) UpdateResolution(ctx context.Context, id, resolution string) error {
	if !models.ValidResolution(resolution) {
		s.logger.Warn("ignoring invalid resolution", zap.String("id", id), zap.String("resolution", resolution))
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE video_generations SET resolution = $2, updated_at = NOW() WHERE id = $1`,
		id, resolution)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	return nil
}

func (s *Store) IncrementRetry(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE video_generations SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1 RETURNING retry_count`,
		id).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM video_generations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteMany removes the given ids and returns the ones that existed.
func (s *Store) DeleteMany(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `DELETE FROM video_generations WHERE id = ANY($1) RETURNING id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	return deleted, nil
}

func (s *Store) DeleteAll(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM video_generations RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}
	return deleted, nil
}

func (s *Store) ListByStatus(ctx context.Context, status models.Status) ([]models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM video_generations WHERE status = $1 ORDER BY created_at DESC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Record])
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, nil
}

// ListPage returns one page of records, newest first, plus the total count.
func (s *Store) ListPage(ctx context.Context, page, limit int) ([]models.Record, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM video_generations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM video_generations ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Record])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan records: %w", err)
	}
	return records, total, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM admin_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: setting %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO admin_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM admin_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}

func (s *Store) transitionFailure(ctx context.Context, id string, to models.Status) error {
	var current models.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM video_generations WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to read status: %w", err)
	}
	return fmt.Errorf("%w: %w", ErrInvalidTransition, models.TransitionError(id, current, to))
}

func predecessors(to models.Status) []string {
	allowed := models.AllowedPredecessors(to)
	out := make([]string, len(allowed))
	for i, s := range allowed {
		out[i] = string(s)
	}
	return out
}
