package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

type store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
	ListActiveJobs(ctx context.Context) ([]uuid.UUID, error)
	SaveBook(ctx context.Context, book *models.Book) (*models.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	GetBookByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error)
	QueryBooks(ctx context.Context, filter models.BookFilter) ([]models.BookSummary, int, error)
}

func newJob(status models.JobStatus) *models.Job {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Job{
		ID:        uuid.New(),
		SourceURL: "https://youtu.be/dQw4w9WgXcQ",
		VideoID:   "dQw4w9WgXcQ",
		Status:    status,
		Chunks: []models.ChunkDescriptor{
			{Stage: models.StageExtraction, Seq: 0, Status: models.ChunkPending},
		},
		Results:   models.StageResults{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newBook(jobID uuid.UUID, version int, title, author string, themes []string, created time.Time) *models.Book {
	return &models.Book{
		ID:        uuid.New(),
		JobID:     jobID,
		Version:   version,
		Title:     title,
		Author:    author,
		Summary:   "A summary of " + title,
		Chapters:  []models.Chapter{{Title: "One"}, {Title: "Two"}},
		Glossary:  []models.GlossaryEntry{},
		Themes:    themes,
		CreatedAt: created.UTC().Truncate(time.Millisecond),
	}
}

// runStoreContract exercises the behaviour every store implementation shares.
func runStoreContract(t *testing.T, s store) {
	ctx := context.Background()

	t.Run("create and load", func(t *testing.T) {
		job := newJob(models.JobPlanned)
		require.NoError(t, s.CreateJob(ctx, job))
		assert.EqualValues(t, 1, job.Version)

		loaded, err := s.LoadJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, loaded.ID)
		assert.Equal(t, job.VideoID, loaded.VideoID)
		assert.EqualValues(t, 1, loaded.Version)
		require.Len(t, loaded.Chunks, 1)
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := s.LoadJob(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})

	t.Run("compare and swap", func(t *testing.T) {
		job := newJob(models.JobPlanned)
		require.NoError(t, s.CreateJob(ctx, job))

		a, err := s.LoadJob(ctx, job.ID)
		require.NoError(t, err)
		b, err := s.LoadJob(ctx, job.ID)
		require.NoError(t, err)

		a.Status = models.JobExtracting
		require.NoError(t, s.SaveJob(ctx, a))
		assert.EqualValues(t, 2, a.Version)

		b.Status = models.JobCancelled
		err = s.SaveJob(ctx, b)
		var conflict *models.ConcurrencyConflictError
		require.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)

		loaded, err := s.LoadJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobExtracting, loaded.Status)
		assert.EqualValues(t, 2, loaded.Version)
	})

	t.Run("save missing job", func(t *testing.T) {
		err := s.SaveJob(ctx, newJob(models.JobPlanned))
		assert.ErrorIs(t, err, models.ErrJobNotFound)
	})

	t.Run("results survive a round trip", func(t *testing.T) {
		job := newJob(models.JobTranscribing)
		job.Chunks = append(job.Chunks, models.ChunkDescriptor{
			Stage: models.StageTranscription, Seq: 1, Window: &models.TimeWindow{Start: 595, End: 900}, Status: models.ChunkDone, Attempts: 2,
		})
		job.SetResult(&models.ChunkResult{Stage: models.StageTranscription, Seq: 1, Segments: []models.Segment{{Start: 600, End: 604.5, Text: "hello"}}})
		require.NoError(t, s.CreateJob(ctx, job))

		loaded, err := s.LoadJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded.Result(models.StageTranscription, 0))
		r := loaded.Result(models.StageTranscription, 1)
		require.NotNil(t, r)
		assert.Equal(t, "hello", r.Segments[0].Text)
		assert.Equal(t, 2, loaded.Chunks[1].Attempts)
	})

	t.Run("list active jobs", func(t *testing.T) {
		active := newJob(models.JobGenerating)
		done := newJob(models.JobComplete)
		require.NoError(t, s.CreateJob(ctx, active))
		require.NoError(t, s.CreateJob(ctx, done))

		ids, err := s.ListActiveJobs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, active.ID)
		assert.NotContains(t, ids, done.ID)
	})

	t.Run("save book is idempotent per job version", func(t *testing.T) {
		job := newJob(models.JobAssembling)
		require.NoError(t, s.CreateJob(ctx, job))

		first := newBook(job.ID, 1, "Original", "Chan", []string{"Go"}, time.Now())
		stored, err := s.SaveBook(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first.ID, stored.ID)

		again := newBook(job.ID, 1, "Different title", "Chan", nil, time.Now())
		stored, err = s.SaveBook(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, first.ID, stored.ID)
		assert.Equal(t, "Original", stored.Title)

		got, err := s.GetBook(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Original", got.Title)
		assert.Len(t, got.Chapters, 2)

		_, err = s.GetBook(ctx, again.ID)
		assert.ErrorIs(t, err, models.ErrBookNotFound)
	})

	t.Run("latest version by job", func(t *testing.T) {
		job := newJob(models.JobComplete)
		require.NoError(t, s.CreateJob(ctx, job))

		_, err := s.SaveBook(ctx, newBook(job.ID, 1, "v1", "Chan", nil, time.Now()))
		require.NoError(t, err)
		_, err = s.SaveBook(ctx, newBook(job.ID, 2, "v2", "Chan", nil, time.Now()))
		require.NoError(t, err)

		latest, err := s.GetBookByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, "v2", latest.Title)

		_, err = s.GetBookByJob(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrBookNotFound)
	})

	t.Run("tombstone hides the lineage", func(t *testing.T) {
		job := newJob(models.JobComplete)
		require.NoError(t, s.CreateJob(ctx, job))

		title := "Retired " + job.ID.String()
		first := newBook(job.ID, 1, title, "Chan", nil, time.Now())
		_, err := s.SaveBook(ctx, first)
		require.NoError(t, err)

		listed, total, err := s.QueryBooks(ctx, models.BookFilter{Search: title})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, first.ID, listed[0].ID)

		tomb := newBook(job.ID, 2, title, "Chan", nil, time.Now())
		tomb.Deleted = true
		_, err = s.SaveBook(ctx, tomb)
		require.NoError(t, err)

		_, err = s.GetBookByJob(ctx, job.ID)
		assert.ErrorIs(t, err, models.ErrBookNotFound)

		listed, total, err = s.QueryBooks(ctx, models.BookFilter{Search: title})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, listed)

		old, err := s.GetBook(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, old.Deleted)
		assert.Equal(t, title, old.Title)

		stored, err := s.GetBook(ctx, tomb.ID)
		require.NoError(t, err)
		assert.True(t, stored.Deleted)
	})
}

// runQueryContract expects an empty store.
func runQueryContract(t *testing.T, s store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var jobs []*models.Job
	for i := 0; i < 4; i++ {
		j := newJob(models.JobComplete)
		require.NoError(t, s.CreateJob(ctx, j))
		jobs = append(jobs, j)
	}

	books := []*models.Book{
		newBook(jobs[0].ID, 1, "Concurrency Patterns", "Gopher Talks", []string{"Concurrency", "Go"}, base),
		newBook(jobs[1].ID, 1, "Database Internals", "DB Weekly", []string{"Storage"}, base.Add(time.Hour)),
		newBook(jobs[2].ID, 1, "Intro to Rust", "Gopher Talks", []string{"Rust"}, base.Add(2*time.Hour)),
		newBook(jobs[2].ID, 2, "Intro to Rust (revised)", "Gopher Talks", []string{"Rust", "Go"}, base.Add(3*time.Hour)),
		newBook(jobs[3].ID, 1, "Distributed Systems", "DB Weekly", []string{"concurrency"}, base.Add(4*time.Hour)),
	}
	for _, b := range books {
		_, err := s.SaveBook(ctx, b)
		require.NoError(t, err)
	}

	titles := func(list []models.BookSummary) []string {
		var out []string
		for _, b := range list {
			out = append(out, b.Title)
		}
		return out
	}

	all, total, err := s.QueryBooks(ctx, models.BookFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"Distributed Systems", "Intro to Rust (revised)", "Database Internals", "Concurrency Patterns"}, titles(all))
	assert.Equal(t, 2, all[0].ChapterCount)

	byAuthor, total, err := s.QueryBooks(ctx, models.BookFilter{Author: "gopher talks"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"Intro to Rust (revised)", "Concurrency Patterns"}, titles(byAuthor))

	byTheme, _, err := s.QueryBooks(ctx, models.BookFilter{Theme: "Concurrency"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Distributed Systems", "Concurrency Patterns"}, titles(byTheme))

	bySearch, _, err := s.QueryBooks(ctx, models.BookFilter{Search: "internals"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Database Internals"}, titles(bySearch))

	page, total, err := s.QueryBooks(ctx, models.BookFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"Intro to Rust (revised)", "Database Internals"}, titles(page))
}
