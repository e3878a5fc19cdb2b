package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// ErrInvalidRevision is returned for revisions that would leave a book
// without a title or with nothing changed.
var ErrInvalidRevision = errors.New("invalid book revision")

const reviseAttempts = 3

// BookStore is the slice of the job store the book service needs.
type BookStore interface {
	SaveBook(ctx context.Context, book *models.Book) (*models.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	GetBookByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error)
	QueryBooks(ctx context.Context, filter models.BookFilter) ([]models.BookSummary, int, error)
}

// BookService reads books and records revisions. A revision never mutates a
// stored book: it is saved as the next version for the same job.
type BookService struct {
	store BookStore
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewBookService(store BookStore, log logrus.FieldLogger) *BookService {
	return &BookService{store: store, log: log, now: time.Now}
}

func (s *BookService) Get(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	return s.store.GetBook(ctx, id)
}

func (s *BookService) GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error) {
	return s.store.GetBookByJob(ctx, jobID)
}

func (s *BookService) Query(ctx context.Context, filter models.BookFilter) ([]models.BookSummary, int, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Author = strings.TrimSpace(filter.Author)
	filter.Theme = strings.TrimSpace(filter.Theme)
	return s.store.QueryBooks(ctx, filter.Normalize())
}

// Revise applies rev on top of the latest version of the book's job and
// stores the result as a new version.
func (s *BookService) Revise(ctx context.Context, id uuid.UUID, rev models.BookRevision) (*models.Book, error) {
	if err := validateRevision(rev); err != nil {
		return nil, err
	}
	return s.appendVersion(ctx, id, "Book revised", func(latest *models.Book) *models.Book {
		return applyRevision(latest, rev)
	})
}

// Delete stores a tombstone as the next version. The job's book and the
// listing stop showing the lineage; earlier versions stay readable by id.
func (s *BookService) Delete(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	return s.appendVersion(ctx, id, "Book deleted", func(latest *models.Book) *models.Book {
		next := *latest
		next.Deleted = true
		return &next
	})
}

// appendVersion derives the next version from the latest one of the book's
// job and inserts it. Losing the race for a version number rebases on the
// winner, so a lineage deleted meanwhile reports ErrBookNotFound.
func (s *BookService) appendVersion(ctx context.Context, id uuid.UUID, msg string, derive func(*models.Book) *models.Book) (*models.Book, error) {
	target, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < reviseAttempts; attempt++ {
		latest, err := s.store.GetBookByJob(ctx, target.JobID)
		if err != nil {
			return nil, err
		}

		next := derive(latest)
		next.ID = uuid.New()
		next.Version = latest.Version + 1
		next.CreatedAt = s.now().UTC()

		stored, err := s.store.SaveBook(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("failed to save book version: %w", err)
		}
		if stored.ID == next.ID {
			s.log.WithFields(logrus.Fields{
				"job_id":  next.JobID,
				"book_id": next.ID,
				"version": next.Version,
			}).Info(msg)
			return stored, nil
		}
	}
	return nil, &models.ConcurrencyConflictError{JobID: target.JobID.String(), Expected: int64(target.Version)}
}

func validateRevision(rev models.BookRevision) error {
	if rev.Title == nil && rev.Summary == nil && rev.Themes == nil && rev.TargetAudience == nil {
		return fmt.Errorf("%w: nothing to change", ErrInvalidRevision)
	}
	if rev.Title != nil && strings.TrimSpace(*rev.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidRevision)
	}
	return nil
}

func applyRevision(b *models.Book, rev models.BookRevision) *models.Book {
	next := *b
	if rev.Title != nil {
		next.Title = strings.TrimSpace(*rev.Title)
	}
	if rev.Summary != nil {
		next.Summary = *rev.Summary
	}
	if rev.Themes != nil {
		next.Themes = []string{}
		seen := map[string]bool{}
		for _, t := range rev.Themes {
			t = strings.TrimSpace(t)
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			next.Themes = append(next.Themes, t)
		}
	}
	if rev.TargetAudience != nil {
		next.TargetAudience = *rev.TargetAudience
	}
	return &next
}
