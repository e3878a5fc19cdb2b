package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const (
	DefaultWindowSeconds  = 600.0
	DefaultOverlapSeconds = 5.0
	DefaultTokenBudget    = 3000
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Planner splits each stage's input extent into chunk descriptors.
type Planner struct {
	WindowSeconds  float64
	OverlapSeconds float64
	TokenBudget    int
	Counter        Counter
}

func NewPlanner(windowSeconds, overlapSeconds float64, tokenBudget int, counter Counter) (*Planner, error) {
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("transcription window must be positive, got %v", windowSeconds)
	}
	if overlapSeconds < 0 || overlapSeconds >= windowSeconds {
		return nil, fmt.Errorf("overlap %v must be in [0, %v)", overlapSeconds, windowSeconds)
	}
	if tokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", tokenBudget)
	}
	if counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	return &Planner{
		WindowSeconds:  windowSeconds,
		OverlapSeconds: overlapSeconds,
		TokenBudget:    tokenBudget,
		Counter:        counter,
	}, nil
}

// PlanExtraction returns the single extraction descriptor.
func (p *Planner) PlanExtraction() []models.ChunkDescriptor {
	return []models.ChunkDescriptor{{
		Stage:  models.StageExtraction,
		Seq:    0,
		Status: models.ChunkPending,
	}}
}

// PlanTranscription covers [0, duration) with windows of WindowSeconds whose
// starts advance by WindowSeconds-OverlapSeconds. The last window is cut at
// duration. Durations up to one window yield a single chunk.
func (p *Planner) PlanTranscription(duration float64) ([]models.ChunkDescriptor, error) {
	if math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, fmt.Errorf("audio duration %v is not finite", duration)
	}
	if duration < 0 {
		return nil, fmt.Errorf("negative audio duration %v", duration)
	}

	var chunks []models.ChunkDescriptor
	start := 0.0
	for seq := 0; ; seq++ {
		end := start + p.WindowSeconds
		if end > duration {
			end = duration
		}
		chunks = append(chunks, models.ChunkDescriptor{
			Stage:  models.StageTranscription,
			Seq:    seq,
			Window: &models.TimeWindow{Start: start, End: end},
			Status: models.ChunkPending,
		})
		if end >= duration {
			break
		}
		start = end - p.OverlapSeconds
	}
	return chunks, nil
}

// PlanGeneration packs whole sentences of the transcript into spans of at
// most TokenBudget tokens. Spans are contiguous and cover the transcript.
// A sentence larger than the budget gets a span of its own.
func (p *Planner) PlanGeneration(transcript string) []models.ChunkDescriptor {
	sentences := SplitSentences(transcript)
	if len(sentences) == 0 {
		return []models.ChunkDescriptor{{
			Stage:  models.StageGeneration,
			Seq:    0,
			Span:   &models.TextSpan{Start: 0, End: len(transcript)},
			Status: models.ChunkPending,
		}}
	}

	var chunks []models.ChunkDescriptor
	emit := func(start, end int) {
		chunks = append(chunks, models.ChunkDescriptor{
			Stage:  models.StageGeneration,
			Seq:    len(chunks),
			Span:   &models.TextSpan{Start: start, End: end},
			Status: models.ChunkPending,
		})
	}

	spanStart, spanTokens := 0, 0
	for _, s := range sentences {
		n := p.Counter.Count(transcript[s.Start:s.End])
		if spanTokens > 0 && spanTokens+n > p.TokenBudget {
			emit(spanStart, s.Start)
			spanStart, spanTokens = s.Start, 0
		}
		spanTokens += n
	}
	emit(spanStart, len(transcript))
	return chunks
}

// SplitSentences returns contiguous spans covering text, each ending after
// sentence punctuation or a paragraph break plus any trailing whitespace.
func SplitSentences(text string) []models.TextSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []models.TextSpan
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		boundary := false
		switch {
		case c == '.' || c == '!' || c == '?':
			j := i + 1
			for j < len(text) && (text[j] == '"' || text[j] == '\'' || text[j] == ')') {
				j++
			}
			if j >= len(text) || isSpace(text[j]) {
				boundary = true
				i = j
			}
		case c == '\n' && i+1 < len(text) && text[i+1] == '\n':
			boundary = true
		}

		if !boundary {
			i++
			continue
		}
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		spans = append(spans, models.TextSpan{Start: start, End: i})
		start = i
	}
	if start < len(text) {
		spans = append(spans, models.TextSpan{Start: start, End: len(text)})
	}
	return spans
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}
