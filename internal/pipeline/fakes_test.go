package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/repository"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// wordCounter counts whitespace separated words as tokens.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fakeResolver struct{}

func (fakeResolver) ResolveVideoID(url string) (string, error) {
	if !strings.HasPrefix(url, "https://youtu.be/") {
		return "", &models.InvalidSourceError{URL: url}
	}
	return strings.TrimPrefix(url, "https://youtu.be/"), nil
}

type fakeExtractor struct {
	duration float64
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (*models.Extraction, error) {
	id := strings.TrimPrefix(url, "https://youtu.be/")
	return &models.Extraction{
		Audio: models.AudioRef{Key: "audio/" + id + ".m4a", VideoID: id, MimeType: "audio/mp4"},
		Metadata: models.VideoMetadata{
			VideoID:         id,
			Title:           "Concurrency in Go",
			Channel:         "Gopher Talks",
			DurationSeconds: f.duration,
		},
	}, nil
}

// fakeTranscriber emits one five-second sentence per step, aligned to
// multiples of five seconds in absolute time.
type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(_ context.Context, _ models.AudioRef, w models.TimeWindow) ([]models.Segment, error) {
	var segs []models.Segment
	for t := w.Start; t < w.End; t += 5 {
		end := t + 5
		if end > w.End {
			end = w.End
		}
		segs = append(segs, models.Segment{Start: t, End: end, Text: fmt.Sprintf("w%03.0f.", t)})
	}
	return segs, nil
}

type fakeGenerator struct {
	calls atomic.Int32
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, text string, gc models.GenerationContext) (*models.Fragment, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Fragment{
		Summary: fmt.Sprintf("Part %d of %d.", gc.Index+1, gc.Total),
		Chapters: []models.Chapter{
			{Title: "Introduction", Content: fmt.Sprintf("intro %d", gc.Index), KeyPoints: []string{"goroutines"}},
			{Title: fmt.Sprintf("Section %d", gc.Index), Content: text},
		},
		Glossary: []models.GlossaryEntry{
			{Term: "Channel", Definition: fmt.Sprintf("defined in chunk %d", gc.Index)},
			{Term: fmt.Sprintf("term%d", gc.Index), Definition: "local"},
		},
		Themes:          []string{"Concurrency", "concurrency", fmt.Sprintf("theme%d", gc.Index%2)},
		TargetAudience:  "Go developers",
		DifficultyLevel: "intermediate",
		FurtherReading:  []models.Reading{{Title: "The Go Memory Model", Description: "language reference"}},
	}, nil
}

// recordingDispatcher queues tasks so tests decide when and in which order
// they run.
type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

func (d *recordingDispatcher) drain() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.tasks
	d.tasks = nil
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.WSMessage
}

func (p *recordingPublisher) Publish(_ context.Context, _ uuid.UUID, msg models.WSMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store      *repository.MemoryStore
	dispatcher *recordingDispatcher
	publisher  *recordingPublisher
	generator  *fakeGenerator
	executor   *Executor
	coord      *Coordinator
}

func newHarness(t *testing.T, duration float64) *harness {
	t.Helper()

	planner, err := NewPlanner(70, 5, 5, wordCounter{})
	require.NoError(t, err)

	h := &harness{
		store:      repository.NewMemoryStore(),
		dispatcher: &recordingDispatcher{},
		publisher:  &recordingPublisher{},
		generator:  &fakeGenerator{},
	}
	h.executor = NewExecutor(&fakeExtractor{duration: duration}, fakeTranscriber{}, h.generator, ExecutorConfig{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, testLogger())
	h.coord = NewCoordinator(h.store, fakeResolver{}, planner, NewAssembler(), CoordinatorConfig{ChunkLease: time.Minute}, testLogger())
	h.coord.SetDispatcher(h.dispatcher)
	h.coord.SetPublisher(h.publisher)
	return h
}

// runTasks executes tasks and reports every outcome to the coordinator in
// the given order.
func (h *harness) runTasks(t *testing.T, tasks []Task) {
	t.Helper()
	ctx := context.Background()
	for _, task := range tasks {
		out := h.executor.Execute(ctx, task)
		require.NoError(t, h.coord.Complete(ctx, task, out))
	}
}

// runToEnd alternates Advance and task execution until the job is terminal.
func (h *harness) runToEnd(t *testing.T, job *models.Job, order func([]Task) []Task) *models.Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		var err error
		job, err = h.coord.Advance(ctx, job.ID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		tasks := h.dispatcher.drain()
		if order != nil {
			tasks = order(tasks)
		}
		h.runTasks(t, tasks)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.Status)
	return nil
}

func reversed(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[len(tasks)-1-i] = t
	}
	return out
}
