package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/middleware"
	"github.com/muzaffar640/vidread-backend/internal/models"
)

type BookService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Book, error)
	Query(ctx context.Context, filter models.BookFilter) ([]models.BookSummary, int, error)
	Revise(ctx context.Context, id uuid.UUID, rev models.BookRevision) (*models.Book, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Book, error)
}

type jobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type BookHandler struct {
	books BookService
	jobs  jobGetter
	log   logrus.FieldLogger
}

func NewBookHandler(books BookService, jobs jobGetter, log logrus.FieldLogger) *BookHandler {
	return &BookHandler{books: books, jobs: jobs, log: log}
}

func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	books, total, err := h.books.Query(r.Context(), models.BookFilter{
		Search: q.Get("search"),
		Author: q.Get("author"),
		Theme:  q.Get("theme"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if books == nil {
		books = []models.BookSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"books": books,
		"total": total,
	})
}

// Get is open to any authenticated caller, like List: books are public.
// Changing one requires owning its job.
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "book")
	if !ok {
		return
	}
	book, err := h.books.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Revise stores the edit as a new book version. Only the user who submitted
// the job may revise its book.
func (h *BookHandler) Revise(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "book")
	if !ok {
		return
	}

	var rev models.BookRevision
	if err := json.NewDecoder(r.Body).Decode(&rev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if !h.authorize(w, r, id) {
		return
	}

	revised, err := h.books.Revise(r.Context(), id, rev)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, revised)
}

// Delete hides the book by storing a tombstone version; history is kept.
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "book")
	if !ok {
		return
	}
	if !h.authorize(w, r, id) {
		return
	}

	tomb, err := h.books.Delete(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Book deleted",
		"version": tomb.Version,
	})
}

// authorize writes an error response and returns false unless the caller
// owns the job that produced book id.
func (h *BookHandler) authorize(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	book, err := h.books.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return false
	}
	job, err := h.jobs.Get(r.Context(), book.JobID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return false
	}
	if !canAccess(job, middleware.GetUserID(r.Context())) {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Access denied", r))
		return false
	}
	return true
}
