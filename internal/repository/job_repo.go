package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// JobRepo stores the whole job document in a JSONB column. Status, error and
// book id are mirrored into plain columns for querying; the version column is
// authoritative for compare-and-swap.
type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Version = 1

	state, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	query := `INSERT INTO jobs (id, source_url, video_id, requested_by, status, version, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		j.ID, j.SourceURL, j.VideoID, j.RequestedBy, j.Status, j.Version, state, j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (r *JobRepo) LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var state []byte
	var version int64
	err := r.pool.QueryRow(ctx, "SELECT state, version FROM jobs WHERE id = $1", id).Scan(&state, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}

	j := &models.Job{}
	if err := json.Unmarshal(state, j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	j.Version = version
	return j, nil
}

func (r *JobRepo) SaveJob(ctx context.Context, j *models.Job) error {
	next := *j
	next.Version = j.Version + 1
	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	var errCode, errMsg *string
	if j.Error != nil {
		errCode, errMsg = &j.Error.Code, &j.Error.Message
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, version = $2, state = $3, book_id = $4, error_code = $5,
			error_message = $6, updated_at = $7, completed_at = $8
		WHERE id = $9 AND version = $10`,
		j.Status, next.Version, state, j.BookID, errCode, errMsg, j.UpdatedAt, j.CompletedAt,
		j.ID, j.Version,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)", j.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.ErrJobNotFound
		}
		return &models.ConcurrencyConflictError{JobID: j.ID.String(), Expected: j.Version}
	}

	j.Version = next.Version
	return nil
}

func (r *JobRepo) ListActiveJobs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status NOT IN ('complete', 'failed', 'cancelled') ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
