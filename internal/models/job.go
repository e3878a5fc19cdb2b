package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPlanned      JobStatus = "planned"
	JobExtracting   JobStatus = "extracting"
	JobTranscribing JobStatus = "transcribing"
	JobGenerating   JobStatus = "generating"
	JobAssembling   JobStatus = "assembling"
	JobComplete     JobStatus = "complete"
	JobFailed       JobStatus = "failed"
	JobCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobFailed || s == JobCancelled
}

// Stage is one processing step of a job. Stages run in strict sequence.
type Stage string

const (
	StageExtraction    Stage = "extraction"
	StageTranscription Stage = "transcription"
	StageGeneration    Stage = "generation"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageExtraction, StageTranscription, StageGeneration}

// Status returns the job status while this stage is in progress.
func (s Stage) Status() JobStatus {
	switch s {
	case StageExtraction:
		return JobExtracting
	case StageTranscription:
		return JobTranscribing
	case StageGeneration:
		return JobGenerating
	}
	return ""
}

// StageForStatus maps an in-progress job status back to its stage.
func StageForStatus(s JobStatus) (Stage, bool) {
	switch s {
	case JobExtracting:
		return StageExtraction, true
	case JobTranscribing:
		return StageTranscription, true
	case JobGenerating:
		return StageGeneration, true
	}
	return "", false
}

type ChunkStatus string

const (
	ChunkPending ChunkStatus = "pending"
	ChunkRunning ChunkStatus = "running"
	ChunkDone    ChunkStatus = "done"
	ChunkFailed  ChunkStatus = "failed"
)

// TimeWindow is a range of audio in seconds, [Start, End).
type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (w TimeWindow) Duration() float64 { return w.End - w.Start }

// TextSpan is a byte range [Start, End) of the merged transcript.
type TextSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s TextSpan) Len() int { return s.End - s.Start }

type ChunkDescriptor struct {
	Stage        Stage       `json:"stage"`
	Seq          int         `json:"seq"`
	Window       *TimeWindow `json:"window,omitempty"`
	Span         *TextSpan   `json:"span,omitempty"`
	Status       ChunkStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	DispatchedAt *time.Time  `json:"dispatched_at,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
}

// Key identifies the chunk within its job, e.g. "transcription/3".
func (c ChunkDescriptor) Key() string {
	return ChunkKey(c.Stage, c.Seq)
}

func ChunkKey(stage Stage, seq int) string {
	return fmt.Sprintf("%s/%d", stage, seq)
}

// Segment is one transcribed utterance with absolute timestamps in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChunkResult holds the output of one completed chunk. Exactly one of the
// stage payloads is set.
type ChunkResult struct {
	Stage       Stage       `json:"stage"`
	Seq         int         `json:"seq"`
	Extraction  *Extraction `json:"extraction,omitempty"`
	Segments    []Segment   `json:"segments,omitempty"`
	Fragment    *Fragment   `json:"fragment,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// StageResults is sparse: the slice for a stage is indexed by chunk sequence
// number and holds nil until that chunk completes.
type StageResults map[Stage][]*ChunkResult

type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage,omitempty"`
	Seq     int    `json:"seq"`
}

type Job struct {
	ID          uuid.UUID         `json:"id"`
	SourceURL   string            `json:"source_url"`
	VideoID     string            `json:"video_id"`
	RequestedBy string            `json:"requested_by,omitempty"`
	Status      JobStatus         `json:"status"`
	Version     int64             `json:"version"`
	Chunks      []ChunkDescriptor `json:"chunks"`
	Results     StageResults      `json:"results"`
	Metadata    *VideoMetadata    `json:"metadata,omitempty"`
	Transcript  string            `json:"transcript,omitempty"`
	BookID      *uuid.UUID        `json:"book_id,omitempty"`
	Error       *JobError         `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// StageChunks returns indexes into j.Chunks for the given stage, in sequence order.
func (j *Job) StageChunks(stage Stage) []int {
	var idx []int
	for i := range j.Chunks {
		if j.Chunks[i].Stage == stage {
			idx = append(idx, i)
		}
	}
	return idx
}

// FindChunk returns the index of the chunk in j.Chunks, or -1.
func (j *Job) FindChunk(stage Stage, seq int) int {
	for i := range j.Chunks {
		if j.Chunks[i].Stage == stage && j.Chunks[i].Seq == seq {
			return i
		}
	}
	return -1
}

// StageDone reports whether the stage has a non-empty plan and every chunk is done.
func (j *Job) StageDone(stage Stage) bool {
	idx := j.StageChunks(stage)
	if len(idx) == 0 {
		return false
	}
	for _, i := range idx {
		if j.Chunks[i].Status != ChunkDone {
			return false
		}
	}
	return true
}

// Result returns the stored result for a chunk, or nil.
func (j *Job) Result(stage Stage, seq int) *ChunkResult {
	rs := j.Results[stage]
	if seq < 0 || seq >= len(rs) {
		return nil
	}
	return rs[seq]
}

// SetResult stores r at its sequence slot, growing the sparse slice as needed.
func (j *Job) SetResult(r *ChunkResult) {
	if j.Results == nil {
		j.Results = make(StageResults)
	}
	rs := j.Results[r.Stage]
	for len(rs) <= r.Seq {
		rs = append(rs, nil)
	}
	rs[r.Seq] = r
	j.Results[r.Stage] = rs
}

// Progress returns the number of done chunks and the total planned.
func (j *Job) Progress() (done, total int) {
	for _, c := range j.Chunks {
		if c.Status == ChunkDone {
			done++
		}
	}
	return done, len(j.Chunks)
}
