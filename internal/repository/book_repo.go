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

type BookRepo struct {
	pool *pgxpool.Pool
}

func NewBookRepo(pool *pgxpool.Pool) *BookRepo {
	return &BookRepo{pool: pool}
}

func (r *BookRepo) SaveBook(ctx context.Context, b *models.Book) (*models.Book, error) {
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

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO books (id, job_id, version, title, author, summary, themes, content, deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		b.ID, b.JobID, b.Version, b.Title, b.Author, b.Summary, themes, content, b.Deleted, b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 1 {
		return b, nil
	}

	// already stored by an earlier assembly of the same job version
	return r.scanOne(ctx, "SELECT content FROM books WHERE job_id = $1 AND version = $2", b.JobID, b.Version)
}

func (r *BookRepo) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	return r.scanOne(ctx, "SELECT content FROM books WHERE id = $1", id)
}

// GetBookByJob returns the latest version, or ErrBookNotFound once the
// lineage has been deleted.
func (r *BookRepo) GetBookByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error) {
	b, err := r.scanOne(ctx, "SELECT content FROM books WHERE job_id = $1 ORDER BY version DESC LIMIT 1", jobID)
	if err != nil {
		return nil, err
	}
	if b.Deleted {
		return nil, models.ErrBookNotFound
	}
	return b, nil
}

func (r *BookRepo) scanOne(ctx context.Context, query string, args ...interface{}) (*models.Book, error) {
	var content []byte
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrBookNotFound
		}
		return nil, err
	}
	b := &models.Book{}
	if err := json.Unmarshal(content, b); err != nil {
		return nil, fmt.Errorf("failed to decode book: %w", err)
	}
	return b, nil
}

// QueryBooks lists the latest version of each job's book, newest first.
func (r *BookRepo) QueryBooks(ctx context.Context, f models.BookFilter) ([]models.BookSummary, int, error) {
	f = f.Normalize()
	var args []interface{}
	argIdx := 1

	where := `WHERE NOT EXISTS (SELECT 1 FROM books newer WHERE newer.job_id = b.job_id AND newer.version > b.version)
		AND NOT b.deleted`

	if f.Search != "" {
		where += fmt.Sprintf(" AND (b.title ILIKE $%d OR b.summary ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+f.Search+"%")
		argIdx++
	}
	if f.Author != "" {
		where += fmt.Sprintf(" AND LOWER(b.author) = LOWER($%d)", argIdx)
		args = append(args, f.Author)
		argIdx++
	}
	if f.Theme != "" {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM unnest(b.themes) t WHERE LOWER(t) = LOWER($%d))", argIdx)
		args = append(args, f.Theme)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM books b "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT b.id, b.job_id, b.version, b.title, b.author, b.themes,
		COALESCE(jsonb_array_length(b.content->'chapters'), 0), b.created_at
		FROM books b %s ORDER BY b.created_at DESC, b.id LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books := []models.BookSummary{}
	for rows.Next() {
		var s models.BookSummary
		if err := rows.Scan(&s.ID, &s.JobID, &s.Version, &s.Title, &s.Author, &s.Themes, &s.ChapterCount, &s.CreatedAt); err != nil {
			return nil, 0, err
		}
		books = append(books, s)
	}
	return books, total, rows.Err()
}
