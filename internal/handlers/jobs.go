package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/middleware"
	"github.com/muzaffar640/vidread-backend/internal/models"
)

// JobService is the part of the coordinator the API drives.
type JobService interface {
	Submit(ctx context.Context, url, requestedBy string) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Advance(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type BookFinder interface {
	GetByJob(ctx context.Context, jobID uuid.UUID) (*models.Book, error)
}

type JobHandler struct {
	jobs  JobService
	books BookFinder
	log   logrus.FieldLogger
}

func NewJobHandler(jobs JobService, books BookFinder, log logrus.FieldLogger) *JobHandler {
	return &JobHandler{jobs: jobs, books: books, log: log}
}

type SubmitJobRequest struct {
	URL string `json:"url"`
}

type chunkView struct {
	Stage     models.Stage       `json:"stage"`
	Seq       int                `json:"seq"`
	Status    models.ChunkStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"last_error,omitempty"`
}

type progressView struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// jobView is the API shape of a job. Chunk results and the transcript stay
// server side; they are only useful through the assembled book.
type jobView struct {
	ID          uuid.UUID             `json:"id"`
	SourceURL   string                `json:"source_url"`
	VideoID     string                `json:"video_id"`
	Status      models.JobStatus      `json:"status"`
	Version     int64                 `json:"version"`
	Progress    progressView          `json:"progress"`
	Chunks      []chunkView           `json:"chunks"`
	Metadata    *models.VideoMetadata `json:"metadata,omitempty"`
	BookID      *uuid.UUID            `json:"book_id,omitempty"`
	Error       *models.JobError      `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func newJobView(j *models.Job) jobView {
	done, total := j.Progress()
	chunks := make([]chunkView, 0, len(j.Chunks))
	for _, c := range j.Chunks {
		chunks = append(chunks, chunkView{
			Stage:     c.Stage,
			Seq:       c.Seq,
			Status:    c.Status,
			Attempts:  c.Attempts,
			LastError: c.LastError,
		})
	}
	return jobView{
		ID:          j.ID,
		SourceURL:   j.SourceURL,
		VideoID:     j.VideoID,
		Status:      j.Status,
		Version:     j.Version,
		Progress:    progressView{Done: done, Total: total},
		Chunks:      chunks,
		Metadata:    j.Metadata,
		BookID:      j.BookID,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Submit creates a job and kicks off its first stage.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"url": "required"}, r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	job, err := h.jobs.Submit(r.Context(), req.URL, userID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	status := job.Status
	if advanced, err := h.jobs.Advance(r.Context(), job.ID); err != nil {
		// The poller picks the job up again; the submission itself stands.
		h.log.WithError(err).WithField("job_id", job.ID).Warn("Initial advance failed")
	} else {
		status = advanced.Status
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": status,
	})
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (h *JobHandler) Advance(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Advance(r.Context(), job.ID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(r.Context(), job.ID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// Book returns the latest book version produced by the job.
func (h *JobHandler) Book(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	book, err := h.books.GetByJob(r.Context(), job.ID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, ok := parseIDParam(w, r, "job")
	if !ok {
		return nil, false
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return nil, false
	}
	if !canAccess(job, middleware.GetUserID(r.Context())) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return nil, false
	}
	return job, true
}

// canAccess allows anyone to read jobs submitted anonymously (CLI, poller).
func canAccess(job *models.Job, userID string) bool {
	return job.RequestedBy == "" || job.RequestedBy == userID
}
