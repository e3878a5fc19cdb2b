package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/pipeline"
	"github.com/muzaffar640/vidread-backend/internal/repository"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type words struct{}

func (words) Count(text string) int { return len(strings.Fields(text)) }

type resolver struct{}

func (resolver) ResolveVideoID(url string) (string, error) {
	if !strings.HasPrefix(url, "https://youtu.be/") {
		return "", &models.InvalidSourceError{URL: url}
	}
	return strings.TrimPrefix(url, "https://youtu.be/"), nil
}

type extractor struct{}

func (extractor) Extract(_ context.Context, url string) (*models.Extraction, error) {
	id := strings.TrimPrefix(url, "https://youtu.be/")
	return &models.Extraction{
		Audio:    models.AudioRef{Key: "audio/" + id + ".m4a", VideoID: id},
		Metadata: models.VideoMetadata{VideoID: id, Title: "Talk", Channel: "Chan", DurationSeconds: 100},
	}, nil
}

type transcriber struct{}

func (transcriber) Transcribe(_ context.Context, _ models.AudioRef, w models.TimeWindow) ([]models.Segment, error) {
	var segs []models.Segment
	for t := w.Start; t < w.End; t += 10 {
		segs = append(segs, models.Segment{Start: t, End: t + 10, Text: fmt.Sprintf("Sentence at %03.0f.", t)})
	}
	return segs, nil
}

type generator struct{ calls atomic.Int32 }

func (g *generator) Generate(_ context.Context, text string, gc models.GenerationContext) (*models.Fragment, error) {
	g.calls.Add(1)
	return &models.Fragment{
		Summary:  fmt.Sprintf("part %d", gc.Index),
		Chapters: []models.Chapter{{Title: fmt.Sprintf("Chapter %d", gc.Index), Content: text}},
		Themes:   []string{"talks"},
	}, nil
}

type stack struct {
	store *repository.MemoryStore
	coord *pipeline.Coordinator
	exec  *pipeline.Executor
	gen   *generator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	planner, err := pipeline.NewPlanner(40, 5, 12, words{})
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	gen := &generator{}
	exec := pipeline.NewExecutor(extractor{}, transcriber{}, gen, pipeline.ExecutorConfig{
		MaxAttempts: 2, AttemptTimeout: time.Second, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}, testLogger())
	coord := pipeline.NewCoordinator(store, resolver{}, planner, pipeline.NewAssembler(), pipeline.CoordinatorConfig{ChunkLease: time.Minute}, testLogger())
	return &stack{store: store, coord: coord, exec: exec, gen: gen}
}

func TestLocalDispatcherRunsJobToCompletion(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	d := NewLocalDispatcher(s.exec, s.coord, 3, testLogger())
	defer d.Close()
	s.coord.SetDispatcher(d)

	job, err := s.coord.Submit(ctx, "https://youtu.be/abc", "tester")
	require.NoError(t, err)
	_, err = s.coord.Advance(ctx, job.ID)
	require.NoError(t, err)

	d.Wait()

	final, err := s.coord.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobComplete, final.Status, "job error: %+v", final.Error)
	require.NotNil(t, final.BookID)

	book, err := s.store.GetBook(ctx, *final.BookID)
	require.NoError(t, err)
	assert.Equal(t, "Talk", book.Title)
	assert.NotEmpty(t, book.Chapters)
	assert.EqualValues(t, len(final.StageChunks(models.StageGeneration)), s.gen.calls.Load())
}

func TestLocalDispatcherRejectsAfterClose(t *testing.T) {
	d := NewLocalDispatcher(nil, nil, 1, testLogger())
	d.Close()
	err := d.Dispatch(context.Background(), pipeline.Task{})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

type stubRunner struct {
	outcome pipeline.Outcome
}

func (r stubRunner) Execute(context.Context, pipeline.Task) pipeline.Outcome { return r.outcome }

type recordingCoord struct {
	mu          sync.Mutex
	completeErr error
	completed   []pipeline.Task
	advanced    []uuid.UUID
	advanceErr  map[uuid.UUID]error
}

func (c *recordingCoord) Complete(_ context.Context, task pipeline.Task, _ pipeline.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, task)
	return c.completeErr
}

func (c *recordingCoord) Advance(_ context.Context, id uuid.UUID) (*models.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanced = append(c.advanced, id)
	return &models.Job{ID: id}, c.advanceErr[id]
}

func TestRunTaskAdvancesAfterComplete(t *testing.T) {
	coord := &recordingCoord{}
	task := pipeline.Task{JobID: uuid.New(), Stage: models.StageGeneration, Seq: 2}

	runTask(context.Background(), stubRunner{outcome: pipeline.Outcome{Err: errors.New("boom"), Attempts: 3}}, coord, task, testLogger())

	require.Len(t, coord.completed, 1)
	assert.Equal(t, task.Key(), coord.completed[0].Key())
	assert.Equal(t, []uuid.UUID{task.JobID}, coord.advanced)
}

func TestRunTaskSkipsAdvanceWhenOutcomeDropped(t *testing.T) {
	for _, err := range []error{models.ErrUnknownChunk, models.ErrJobNotFound, errors.New("store down")} {
		coord := &recordingCoord{completeErr: err}
		runTask(context.Background(), stubRunner{}, coord, pipeline.Task{JobID: uuid.New()}, testLogger())
		assert.Empty(t, coord.advanced, "advance after %v", err)
	}
}

func TestRunTaskDropsOutcomeOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coord := &recordingCoord{}

	runTask(ctx, stubRunner{outcome: pipeline.Outcome{Err: context.Canceled, Attempts: 1}}, coord, pipeline.Task{JobID: uuid.New()}, testLogger())

	assert.Empty(t, coord.completed)
	assert.Empty(t, coord.advanced)
}

// stuckExtractor blocks until its context ends.
type stuckExtractor struct{ started chan struct{} }

func (e stuckExtractor) Extract(ctx context.Context, _ string) (*models.Extraction, error) {
	close(e.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLocalDispatcherCloseLeavesTaskRunning(t *testing.T) {
	ctx := context.Background()
	planner, err := pipeline.NewPlanner(40, 5, 12, words{})
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	stuck := stuckExtractor{started: make(chan struct{})}
	exec := pipeline.NewExecutor(stuck, transcriber{}, &generator{}, pipeline.ExecutorConfig{
		MaxAttempts: 2, AttemptTimeout: time.Minute, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}, testLogger())
	coord := pipeline.NewCoordinator(store, resolver{}, planner, pipeline.NewAssembler(), pipeline.CoordinatorConfig{ChunkLease: time.Minute}, testLogger())
	d := NewLocalDispatcher(exec, coord, 1, testLogger())
	coord.SetDispatcher(d)

	job, err := coord.Submit(ctx, "https://youtu.be/abc", "tester")
	require.NoError(t, err)
	_, err = coord.Advance(ctx, job.ID)
	require.NoError(t, err)

	select {
	case <-stuck.started:
	case <-time.After(time.Second):
		t.Fatal("extraction never started")
	}
	d.Close()

	after, err := coord.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobExtracting, after.Status)
	assert.Nil(t, after.Error)
	assert.Equal(t, models.ChunkRunning, after.Chunks[0].Status)
}

type listFunc func(context.Context) ([]uuid.UUID, error)

func (f listFunc) ListActiveJobs(ctx context.Context) ([]uuid.UUID, error) { return f(ctx) }

func TestPollerAdvancesActiveJobs(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	coord := &recordingCoord{advanceErr: map[uuid.UUID]error{b: errors.New("conflict storm")}}
	p := NewPoller(listFunc(func(context.Context) ([]uuid.UUID, error) {
		return []uuid.UUID{a, b, c}, nil
	}), coord, time.Hour, testLogger())

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{a, b, c}, coord.advanced)

	failing := NewPoller(listFunc(func(context.Context) ([]uuid.UUID, error) {
		return nil, errors.New("db down")
	}), coord, time.Hour, testLogger())
	_, err = failing.PollOnce(context.Background())
	assert.Error(t, err)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	var polls atomic.Int32
	p := NewPoller(listFunc(func(context.Context) ([]uuid.UUID, error) {
		polls.Add(1)
		return nil, nil
	}), &recordingCoord{}, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return polls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestQueuesDrainLaterStagesFirst(t *testing.T) {
	assert.Equal(t, []string{"queue:generation", "queue:transcription", "queue:extraction"}, queues())
	assert.Equal(t, "job_updates:"+uuid.Nil.String(), JobChannel(uuid.Nil))
}

func TestJobIDFromChannel(t *testing.T) {
	id := uuid.New()
	got, ok := JobIDFromChannel(JobChannel(id))
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = JobIDFromChannel("user_updates:" + id.String())
	assert.False(t, ok)
	_, ok = JobIDFromChannel("job_updates:not-a-uuid")
	assert.False(t, ok)
}
