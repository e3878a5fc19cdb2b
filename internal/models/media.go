package models

import "time"

// AudioRef points at extracted audio in blob storage.
type AudioRef struct {
	Key      string `json:"key"`
	VideoID  string `json:"video_id"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type VideoMetadata struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title"`
	Channel         string    `json:"channel"`
	Description     string    `json:"description,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	UploadDate      time.Time `json:"upload_date,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
}

// Extraction is the output of the extraction stage.
type Extraction struct {
	Audio    AudioRef      `json:"audio"`
	Metadata VideoMetadata `json:"metadata"`
}

// GenerationContext is passed to the generator alongside a transcript window.
type GenerationContext struct {
	Title   string `json:"title"`
	Channel string `json:"channel"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

// Fragment is the structured content produced for one generation window.
type Fragment struct {
	Summary         string          `json:"summary"`
	Chapters        []Chapter       `json:"chapters"`
	Glossary        []GlossaryEntry `json:"glossary"`
	Themes          []string        `json:"themes"`
	TargetAudience  string          `json:"target_audience"`
	DifficultyLevel string          `json:"difficulty_level"`
	FurtherReading  []Reading       `json:"further_reading"`
}
