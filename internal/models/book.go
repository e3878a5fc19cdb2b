package models

import (
	"time"

	"github.com/google/uuid"
)

type Chapter struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	KeyPoints []string `json:"key_points"`
	Examples  []string `json:"examples"`
	Quotes    []string `json:"quotes,omitempty"`
}

type GlossaryEntry struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type Reading struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description"`
}

type BookSource struct {
	VideoID         string    `json:"video_id"`
	URL             string    `json:"url"`
	DurationSeconds float64   `json:"duration_seconds"`
	UploadDate      time.Time `json:"upload_date,omitempty"`
}

// Book is immutable once stored. Revisions are stored as new versions
// sharing the same JobID. A version with Deleted set is a tombstone: the
// lineage is hidden from listings and from the job, older versions stay.
type Book struct {
	ID              uuid.UUID       `json:"id"`
	JobID           uuid.UUID       `json:"job_id"`
	Version         int             `json:"version"`
	Title           string          `json:"title"`
	Author          string          `json:"author"`
	Summary         string          `json:"summary"`
	Chapters        []Chapter       `json:"chapters"`
	Glossary        []GlossaryEntry `json:"glossary"`
	Themes          []string        `json:"themes"`
	TargetAudience  string          `json:"target_audience"`
	DifficultyLevel string          `json:"difficulty_level"`
	FurtherReading  []Reading       `json:"further_reading"`
	Source          BookSource      `json:"source"`
	Deleted         bool            `json:"deleted,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type BookSummary struct {
	ID           uuid.UUID `json:"id"`
	JobID        uuid.UUID `json:"job_id"`
	Version      int       `json:"version"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Themes       []string  `json:"themes"`
	ChapterCount int       `json:"chapter_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type BookFilter struct {
	Search string
	Author string
	Theme  string
	Limit  int
	Offset int
}

const (
	DefaultBookPageSize = 20
	MaxBookPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f BookFilter) Normalize() BookFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultBookPageSize
	}
	if f.Limit > MaxBookPageSize {
		f.Limit = MaxBookPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// BookRevision carries the editable fields of a book. Nil fields are left as-is.
type BookRevision struct {
	Title          *string  `json:"title"`
	Summary        *string  `json:"summary"`
	Themes         []string `json:"themes"`
	TargetAudience *string  `json:"target_audience"`
}

func (b *Book) ToSummary() BookSummary {
	return BookSummary{
		ID:           b.ID,
		JobID:        b.JobID,
		Version:      b.Version,
		Title:        b.Title,
		Author:       b.Author,
		Themes:       b.Themes,
		ChapterCount: len(b.Chapters),
		CreatedAt:    b.CreatedAt,
	}
}
