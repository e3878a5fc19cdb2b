package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// Store persists jobs and books. SaveJob is a compare-and-swap on
// job.Version: it fails with *models.ConcurrencyConflictError when the
// stored version differs, and bumps job.Version on success.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SaveJob(ctx context.Context, job *models.Job) error
	ListActiveJobs(ctx context.Context) ([]uuid.UUID, error)

	// SaveBook inserts the book unless one already exists for the same
	// (JobID, Version), in which case the stored book is returned.
	SaveBook(ctx context.Context, book *models.Book) (*models.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	GetBookByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error)
	QueryBooks(ctx context.Context, filter models.BookFilter) ([]models.BookSummary, int, error)
}

// Dispatcher hands a task to an executor somewhere. It must not block on
// the task itself; the outcome is delivered through Coordinator.Complete.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

type SourceResolver interface {
	ResolveVideoID(url string) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, url string) (*models.Extraction, error)
}

// Transcriber returns segments with timestamps relative to the start of the
// whole audio, not the window.
type Transcriber interface {
	Transcribe(ctx context.Context, audio models.AudioRef, window models.TimeWindow) ([]models.Segment, error)
}

type Generator interface {
	Generate(ctx context.Context, text string, gc models.GenerationContext) (*models.Fragment, error)
}

// Task is a self-contained unit of work for one chunk.
type Task struct {
	JobID     uuid.UUID                `json:"job_id"`
	Stage     models.Stage             `json:"stage"`
	Seq       int                      `json:"seq"`
	SourceURL string                   `json:"source_url,omitempty"`
	Audio     *models.AudioRef         `json:"audio,omitempty"`
	Window    *models.TimeWindow       `json:"window,omitempty"`
	Text      string                   `json:"text,omitempty"`
	Context   models.GenerationContext `json:"context"`
}

func (t Task) Key() string {
	return t.JobID.String() + ":" + models.ChunkKey(t.Stage, t.Seq)
}

// Outcome is the result of executing a task. Exactly one of Result and Err
// is set.
type Outcome struct {
	Result   *models.ChunkResult
	Err      error
	Attempts int
}
