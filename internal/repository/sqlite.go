package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// SQLiteStore is the single-node store (STORE_DRIVER=sqlite). It mirrors the
// Postgres layout: a JSON state document plus a version column for CAS.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Version = 1
	state, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, video_id, status, version, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.VideoID, string(j.Status), j.Version, string(state), j.CreatedAt, j.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var state string
	var version int64
	err := s.db.QueryRowContext(ctx, "SELECT state, version FROM jobs WHERE id = ?", id.String()).Scan(&state, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}
	j := &models.Job{}
	if err := json.Unmarshal([]byte(state), j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	j.Version = version
	return j, nil
}

func (s *SQLiteStore) SaveJob(ctx context.Context, j *models.Job) error {
	next := *j
	next.Version = j.Version + 1
	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, version = ?, state = ?, updated_at = ? WHERE id = ? AND version = ?`,
		string(j.Status), next.Version, string(state), j.UpdatedAt, j.ID.String(), j.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE id = ?", j.ID.String()).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return models.ErrJobNotFound
		}
		return &models.ConcurrencyConflictError{JobID: j.ID.String(), Expected: j.Version}
	}
	j.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListActiveJobs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status NOT IN ('complete', 'failed', 'cancelled') ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveBook(ctx context.Context, b *models.Book) (*models.Book, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	content, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode book: %w", err)
	}
	themes := b.Themes
	if themes == nil {
		themes = []string{}
	}
	themesJSON, _ := json.Marshal(themes)

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO books (id, job_id, version, title, author, summary, themes, content, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.JobID.String(), b.Version, b.Title, b.Author, b.Summary, string(themesJSON), string(content), b.Deleted, b.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return b, nil
	}
	return s.scanOne(ctx, "SELECT content FROM books WHERE job_id = ? AND version = ?", b.JobID.String(), b.Version)
}

func (s *SQLiteStore) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	return s.scanOne(ctx, "SELECT content FROM books WHERE id = ?", id.String())
}

func (s *SQLiteStore) GetBookByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error) {
	b, err := s.scanOne(ctx, "SELECT content FROM books WHERE job_id = ? ORDER BY version DESC LIMIT 1", jobID.String())
	if err != nil {
		return nil, err
	}
	if b.Deleted {
		return nil, models.ErrBookNotFound
	}
	return b, nil
}

func (s *SQLiteStore) scanOne(ctx context.Context, query string, args ...interface{}) (*models.Book, error) {
	var content string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookNotFound
		}
		return nil, err
	}
	b := &models.Book{}
	if err := json.Unmarshal([]byte(content), b); err != nil {
		return nil, fmt.Errorf("failed to decode book: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) QueryBooks(ctx context.Context, f models.BookFilter) ([]models.BookSummary, int, error) {
	f = f.Normalize()
	var args []interface{}

	where := `WHERE NOT EXISTS (SELECT 1 FROM books newer WHERE newer.job_id = b.job_id AND newer.version > b.version)
		AND b.deleted = 0`
	if f.Search != "" {
		where += " AND (b.title LIKE ? OR b.summary LIKE ?)"
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}
	if f.Author != "" {
		where += " AND LOWER(b.author) = LOWER(?)"
		args = append(args, f.Author)
	}
	if f.Theme != "" {
		where += " AND EXISTS (SELECT 1 FROM json_each(b.themes) WHERE LOWER(json_each.value) = LOWER(?))"
		args = append(args, f.Theme)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books b "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT b.id, b.job_id, b.version, b.title, b.author, b.themes,
		COALESCE(json_array_length(b.content, '$.chapters'), 0), b.created_at
		FROM books b ` + where + ` ORDER BY b.created_at DESC, b.id LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books := []models.BookSummary{}
	for rows.Next() {
		var sum models.BookSummary
		var id, jobID, themes string
		var createdAt time.Time
		if err := rows.Scan(&id, &jobID, &sum.Version, &sum.Title, &sum.Author, &themes, &sum.ChapterCount, &createdAt); err != nil {
			return nil, 0, err
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, err
		}
		if sum.JobID, err = uuid.Parse(jobID); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(themes), &sum.Themes); err != nil {
			return nil, 0, err
		}
		sum.CreatedAt = createdAt
		books = append(books, sum)
	}
	return books, total, rows.Err()
}
