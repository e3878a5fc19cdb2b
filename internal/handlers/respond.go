package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// handleServiceError maps domain errors onto the API error envelope.
func handleServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	var invalid *models.InvalidSourceError
	var conflict *models.ConcurrencyConflictError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields(models.CodeInvalidSource, "URL does not identify a YouTube video",
			map[string]string{"url": invalid.URL}, r))
	case errors.Is(err, services.ErrInvalidRevision):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
	case errors.Is(err, models.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Job not found", r))
	case errors.Is(err, models.ErrBookNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Book not found", r))
	case errors.Is(err, models.ErrJobFinished):
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Job has already finished", r))
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResp(models.CodeConflict, "Concurrent update, please retry", r))
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid "+what+" ID", r))
		return uuid.Nil, false
	}
	return id, true
}
