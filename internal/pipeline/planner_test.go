package pipeline

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

func TestNewPlannerValidation(t *testing.T) {
	tests := []struct {
		name    string
		window  float64
		overlap float64
		budget  int
		counter Counter
	}{
		{"zero window", 0, 0, 10, wordCounter{}},
		{"overlap equals window", 10, 10, 10, wordCounter{}},
		{"negative overlap", 10, -1, 10, wordCounter{}},
		{"zero budget", 10, 1, 0, wordCounter{}},
		{"nil counter", 10, 1, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanner(tt.window, tt.overlap, tt.budget, tt.counter)
			assert.Error(t, err)
		})
	}
}

func TestPlanTranscriptionCoversExtent(t *testing.T) {
	tests := []struct {
		name     string
		window   float64
		overlap  float64
		duration float64
		want     []models.TimeWindow
	}{
		{
			name: "two minutes in seventy second windows", window: 70, overlap: 5, duration: 120,
			want: []models.TimeWindow{{Start: 0, End: 70}, {Start: 65, End: 120}},
		},
		{
			name: "shorter than one window", window: 600, overlap: 5, duration: 42,
			want: []models.TimeWindow{{Start: 0, End: 42}},
		},
		{
			name: "exactly one window", window: 600, overlap: 5, duration: 600,
			want: []models.TimeWindow{{Start: 0, End: 600}},
		},
		{
			name: "zero duration", window: 600, overlap: 5, duration: 0,
			want: []models.TimeWindow{{Start: 0, End: 0}},
		},
		{
			name: "three windows without overlap", window: 10, overlap: 0, duration: 25,
			want: []models.TimeWindow{{Start: 0, End: 10}, {Start: 10, End: 20}, {Start: 20, End: 25}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlanner(tt.window, tt.overlap, 100, wordCounter{})
			require.NoError(t, err)

			chunks, err := p.PlanTranscription(tt.duration)
			require.NoError(t, err)
			require.Len(t, chunks, len(tt.want))

			for i, c := range chunks {
				assert.Equal(t, models.StageTranscription, c.Stage)
				assert.Equal(t, i, c.Seq)
				assert.Equal(t, models.ChunkPending, c.Status)
				require.NotNil(t, c.Window)
				assert.Equal(t, tt.want[i], *c.Window)
			}
		})
	}
}

func TestPlanTranscriptionProperties(t *testing.T) {
	p, err := NewPlanner(600, 5, 100, wordCounter{})
	require.NoError(t, err)

	for _, duration := range []float64{1, 599.5, 600.1, 1195, 1200, 3601.25, 7200} {
		chunks, err := p.PlanTranscription(duration)
		require.NoError(t, err)

		assert.Equal(t, 0.0, chunks[0].Window.Start, "duration %v", duration)
		assert.Equal(t, duration, chunks[len(chunks)-1].Window.End, "duration %v", duration)
		for i := 1; i < len(chunks); i++ {
			prev, cur := chunks[i-1].Window, chunks[i].Window
			// no gap, and the repeated region is exactly the configured overlap
			assert.InDelta(t, 5, prev.End-cur.Start, 1e-9, "duration %v chunk %d", duration, i)
			assert.LessOrEqual(t, cur.Duration(), 600.0)
			assert.Greater(t, cur.Duration(), 0.0)
		}
	}
}

func TestPlanTranscriptionRejectsBadDuration(t *testing.T) {
	p, err := NewPlanner(600, 5, 100, wordCounter{})
	require.NoError(t, err)

	for _, d := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		chunks, err := p.PlanTranscription(d)
		assert.Error(t, err, "duration %v", d)
		assert.Empty(t, chunks, "duration %v", d)
	}
}

func TestPlanGenerationPacksSentences(t *testing.T) {
	p, err := NewPlanner(600, 5, 6, wordCounter{})
	require.NoError(t, err)

	transcript := "One two three. Four five six! Seven eight? Nine ten eleven twelve thirteen fourteen fifteen. End."
	chunks := p.PlanGeneration(transcript)

	var texts []string
	for i, c := range chunks {
		assert.Equal(t, models.StageGeneration, c.Stage)
		assert.Equal(t, i, c.Seq)
		texts = append(texts, transcript[c.Span.Start:c.Span.End])
	}

	assert.Equal(t, []string{
		"One two three. Four five six! ",
		"Seven eight? ",
		"Nine ten eleven twelve thirteen fourteen fifteen. ",
		"End.",
	}, texts)
}

func TestPlanGenerationCoversTranscript(t *testing.T) {
	p, err := NewPlanner(600, 5, 7, wordCounter{})
	require.NoError(t, err)

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("a b c. ")
		if i%9 == 0 {
			sb.WriteString("\n\nparagraph start without stop")
		}
	}
	transcript := sb.String()

	chunks := p.PlanGeneration(transcript)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 0, chunks[0].Span.Start)
	assert.Equal(t, len(transcript), chunks[len(chunks)-1].Span.End)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].Span.End, chunks[i].Span.Start)
	}

	// every chunk boundary falls on a sentence boundary
	boundaries := map[int]bool{}
	for _, s := range SplitSentences(transcript) {
		boundaries[s.Start] = true
	}
	for _, c := range chunks {
		assert.True(t, boundaries[c.Span.Start], "chunk starts mid-sentence at %d", c.Span.Start)
	}
}

func TestPlanGenerationShortAndEmpty(t *testing.T) {
	p, err := NewPlanner(600, 5, 3000, wordCounter{})
	require.NoError(t, err)

	chunks := p.PlanGeneration("Just one short sentence.")
	require.Len(t, chunks, 1)
	assert.Equal(t, models.TextSpan{Start: 0, End: 24}, *chunks[0].Span)

	chunks = p.PlanGeneration("")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Span.Len())
}

func TestSplitSentences(t *testing.T) {
	text := "Version 1.5 shipped. \"Really?\" she asked.\n\nNew paragraph"
	var got []string
	for _, s := range SplitSentences(text) {
		got = append(got, text[s.Start:s.End])
	}
	assert.Equal(t, []string{
		"Version 1.5 shipped. ",
		"\"Really?\" ",
		"she asked.\n\n",
		"New paragraph",
	}, got)
}

func TestPlanExtraction(t *testing.T) {
	p, err := NewPlanner(600, 5, 100, wordCounter{})
	require.NoError(t, err)
	chunks := p.PlanExtraction()
	require.Len(t, chunks, 1)
	assert.Equal(t, models.StageExtraction, chunks[0].Stage)
	assert.Nil(t, chunks[0].Window)
	assert.Equal(t, 0, chunks[0].Seq)
}
