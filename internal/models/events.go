package models

import "github.com/google/uuid"

// WebSocket message types
const (
	EventStatusUpdate = "status_update"
	EventChunkDone    = "chunk_done"
	EventChunkFailed  = "chunk_failed"
	EventCompleted    = "completed"
	EventError        = "error"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	JobID       uuid.UUID `json:"job_id"`
	Status      JobStatus `json:"status"`
	ChunksDone  int       `json:"chunks_done"`
	ChunksTotal int       `json:"chunks_total"`
}

type ChunkEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	Stage    Stage     `json:"stage"`
	Seq      int       `json:"seq"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

type CompletedEvent struct {
	JobID  uuid.UUID `json:"job_id"`
	BookID uuid.UUID `json:"book_id"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
