package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const (
	DefaultChunkLease        = 15 * time.Minute
	defaultConflictRetries   = 8
	maxTransitionsPerAdvance = 8
)

// Publisher receives job events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, jobID uuid.UUID, msg models.WSMessage) error
}

type CoordinatorConfig struct {
	// ChunkLease is how long a dispatched chunk may stay running before
	// Advance hands it out again.
	ChunkLease      time.Duration
	ConflictRetries int
}

// Coordinator owns every state transition of a job. All writes go through
// the store's compare-and-swap; on a stale version the change is recomputed
// against a fresh copy of the job.
type Coordinator struct {
	store      Store
	resolver   SourceResolver
	planner    *Planner
	assembler  *Assembler
	dispatcher Dispatcher
	publisher  Publisher
	cfg        CoordinatorConfig
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewCoordinator(store Store, resolver SourceResolver, planner *Planner, assembler *Assembler, cfg CoordinatorConfig, log logrus.FieldLogger) *Coordinator {
	if cfg.ChunkLease <= 0 {
		cfg.ChunkLease = DefaultChunkLease
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	return &Coordinator{
		store:     store,
		resolver:  resolver,
		planner:   planner,
		assembler: assembler,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// SetDispatcher wires the dispatcher. Dispatchers usually need the
// coordinator to report completions, so they are attached after construction.
func (c *Coordinator) SetDispatcher(d Dispatcher) { c.dispatcher = d }

func (c *Coordinator) SetPublisher(p Publisher) { c.publisher = p }

// Submit validates the URL and creates a planned job.
func (c *Coordinator) Submit(ctx context.Context, url, requestedBy string) (*models.Job, error) {
	url = strings.TrimSpace(url)
	videoID, err := c.resolver.ResolveVideoID(url)
	if err != nil {
		var invalid *models.InvalidSourceError
		if errors.As(err, &invalid) {
			return nil, err
		}
		return nil, &models.InvalidSourceError{URL: url}
	}

	now := c.now().UTC()
	job := &models.Job{
		ID:          uuid.New(),
		SourceURL:   url,
		VideoID:     videoID,
		RequestedBy: requestedBy,
		Status:      models.JobPlanned,
		Chunks:      c.planner.PlanExtraction(),
		Results:     models.StageResults{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	c.log.WithFields(logrus.Fields{"job_id": job.ID, "video_id": videoID}).Info("Job submitted")
	c.publishStatus(ctx, job)
	return job, nil
}

func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return c.store.LoadJob(ctx, id)
}

// Cancel stops a job. Chunks still running are allowed to finish but their
// results are dropped by Complete. Once every chunk is done and the job is
// assembling, the book may already be stored, so the job can no longer be
// cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, changed, err := c.update(ctx, id, func(job *models.Job) (bool, error) {
		switch job.Status {
		case models.JobCancelled:
			return false, nil
		case models.JobAssembling, models.JobComplete, models.JobFailed:
			return false, models.ErrJobFinished
		}
		now := c.now().UTC()
		job.Status = models.JobCancelled
		job.UpdatedAt = now
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.log.WithField("job_id", id).Info("Job cancelled")
		c.publishStatus(ctx, job)
	}
	return job, nil
}

type stepResult struct {
	tasks         []Task
	statusChanged bool
	assemble      bool
}

// Advance performs every transition the job is ready for and dispatches any
// pending or lease-expired chunks of the current stage. When nothing is
// ready it does not write, leaving version and status untouched.
func (c *Coordinator) Advance(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var step stepResult
	job, changed, err := c.update(ctx, id, func(job *models.Job) (bool, error) {
		step = stepResult{}
		return c.step(job, &step), nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if step.statusChanged {
			c.publishStatus(ctx, job)
		}
		if job.Status == models.JobFailed {
			c.publishFailure(ctx, job)
		}
		c.dispatch(ctx, step.tasks)
	}

	if step.assemble {
		return c.assemble(ctx, job)
	}
	return job, nil
}

func (c *Coordinator) step(job *models.Job, out *stepResult) bool {
	if job.Status.IsTerminal() {
		return false
	}
	if job.Status == models.JobAssembling {
		out.assemble = true
		return false
	}

	changed := false
	now := c.now().UTC()

	if job.Status == models.JobPlanned {
		job.Status = models.JobExtracting
		out.statusChanged = true
		changed = true
	}

	for i := 0; i < maxTransitionsPerAdvance; i++ {
		stage, ok := models.StageForStatus(job.Status)
		if !ok || !job.StageDone(stage) {
			break
		}
		if err := c.transition(job, stage); err != nil {
			c.failJob(job, stage, -1, err)
			out.statusChanged = true
			return true
		}
		out.statusChanged = true
		changed = true
		if job.Status == models.JobAssembling {
			out.assemble = true
			job.UpdatedAt = now
			return true
		}
	}

	stage, ok := models.StageForStatus(job.Status)
	if ok {
		for _, i := range job.StageChunks(stage) {
			chunk := &job.Chunks[i]
			switch chunk.Status {
			case models.ChunkPending:
			case models.ChunkRunning:
				if chunk.DispatchedAt != nil && now.Sub(*chunk.DispatchedAt) < c.cfg.ChunkLease {
					continue
				}
				c.log.WithFields(logrus.Fields{"job_id": job.ID, "stage": stage, "seq": chunk.Seq}).Warn("Chunk lease expired, re-dispatching")
			default:
				continue
			}
			task, err := c.buildTask(job, *chunk)
			if err != nil {
				c.failJob(job, stage, chunk.Seq, err)
				out.statusChanged = true
				out.tasks = nil
				return true
			}
			dispatchedAt := now
			chunk.Status = models.ChunkRunning
			chunk.DispatchedAt = &dispatchedAt
			out.tasks = append(out.tasks, task)
			changed = true
		}
	}

	if changed {
		job.UpdatedAt = now
	}
	return changed
}

// transition closes a finished stage and plans the next one.
func (c *Coordinator) transition(job *models.Job, done models.Stage) error {
	switch done {
	case models.StageExtraction:
		r := job.Result(models.StageExtraction, 0)
		if r == nil || r.Extraction == nil {
			return &models.AssemblyInconsistencyError{Reason: "extraction result missing"}
		}
		meta := r.Extraction.Metadata
		job.Metadata = &meta
		if meta.DurationSeconds <= 0 {
			return &models.PermanentTaskError{Provider: "extraction", Err: errors.New("video has no audio")}
		}
		chunks, err := c.planner.PlanTranscription(meta.DurationSeconds)
		if err != nil {
			return &models.PermanentTaskError{Provider: "planner", Err: err}
		}
		job.Chunks = append(job.Chunks, chunks...)
		job.Status = models.JobTranscribing

	case models.StageTranscription:
		transcript, _, err := c.assembler.MergeTranscript(job)
		if err != nil {
			return err
		}
		if strings.TrimSpace(transcript) == "" {
			return &models.PermanentTaskError{Provider: "transcription", Err: errors.New("transcript is empty")}
		}
		job.Transcript = transcript
		job.Chunks = append(job.Chunks, c.planner.PlanGeneration(transcript)...)
		job.Status = models.JobGenerating

	case models.StageGeneration:
		job.Status = models.JobAssembling
	}

	c.log.WithFields(logrus.Fields{"job_id": job.ID, "stage": done, "status": job.Status}).Info("Stage complete")
	return nil
}

func (c *Coordinator) buildTask(job *models.Job, chunk models.ChunkDescriptor) (Task, error) {
	task := Task{JobID: job.ID, Stage: chunk.Stage, Seq: chunk.Seq}

	switch chunk.Stage {
	case models.StageExtraction:
		task.SourceURL = job.SourceURL

	case models.StageTranscription:
		r := job.Result(models.StageExtraction, 0)
		if r == nil || r.Extraction == nil || chunk.Window == nil {
			return task, &models.AssemblyInconsistencyError{Reason: "transcription chunk without audio"}
		}
		audio := r.Extraction.Audio
		window := *chunk.Window
		task.Audio = &audio
		task.Window = &window

	case models.StageGeneration:
		if chunk.Span == nil || chunk.Span.Start < 0 || chunk.Span.End > len(job.Transcript) || chunk.Span.Start > chunk.Span.End {
			return task, &models.AssemblyInconsistencyError{Reason: fmt.Sprintf("generation span %d out of range", chunk.Seq)}
		}
		task.Text = job.Transcript[chunk.Span.Start:chunk.Span.End]
		task.Context = models.GenerationContext{
			Index: chunk.Seq,
			Total: len(job.StageChunks(models.StageGeneration)),
		}
		if job.Metadata != nil {
			task.Context.Title = job.Metadata.Title
			task.Context.Channel = job.Metadata.Channel
		}
	}
	return task, nil
}

func (c *Coordinator) dispatch(ctx context.Context, tasks []Task) {
	if c.dispatcher == nil {
		return
	}
	for _, t := range tasks {
		if err := c.dispatcher.Dispatch(ctx, t); err != nil {
			// the chunk stays running and is picked up again once its lease expires
			c.log.WithFields(logrus.Fields{"job_id": t.JobID, "stage": t.Stage, "seq": t.Seq}).WithError(err).Error("Failed to dispatch task")
		}
	}
}

// assemble builds and stores the book, then marks the job complete. The book
// is written before the job so a crash in between is repaired by the next
// Advance: SaveBook returns the already-stored book.
func (c *Coordinator) assemble(ctx context.Context, job *models.Job) (*models.Job, error) {
	book, err := c.assembler.Assemble(job)
	if err != nil {
		c.log.WithField("job_id", job.ID).WithError(err).Error("Assembly failed")
		failed, _, uerr := c.update(ctx, job.ID, func(j *models.Job) (bool, error) {
			if j.Status != models.JobAssembling {
				return false, nil
			}
			c.failJob(j, "", -1, err)
			return true, nil
		})
		if uerr != nil {
			return nil, uerr
		}
		c.publishFailure(ctx, failed)
		return failed, nil
	}

	stored, err := c.store.SaveBook(ctx, book)
	if err != nil {
		return nil, fmt.Errorf("failed to save book: %w", err)
	}

	done, changed, err := c.update(ctx, job.ID, func(j *models.Job) (bool, error) {
		if j.Status != models.JobAssembling {
			return false, nil
		}
		now := c.now().UTC()
		j.Status = models.JobComplete
		j.BookID = &stored.ID
		j.UpdatedAt = now
		j.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		c.log.WithFields(logrus.Fields{"job_id": done.ID, "book_id": stored.ID, "chapters": len(stored.Chapters)}).Info("Job complete")
		c.publishStatus(ctx, done)
		c.publish(ctx, done.ID, models.WSMessage{
			Type:    models.EventCompleted,
			Payload: models.CompletedEvent{JobID: done.ID, BookID: stored.ID},
		})
	}
	return done, nil
}

// Complete records the outcome of a dispatched task. Results for chunks the
// job never planned are rejected with ErrUnknownChunk. Results that arrive
// after the job finished or moved past the chunk's stage are dropped.
// Delivering the same result twice is a no-op.
func (c *Coordinator) Complete(ctx context.Context, task Task, outcome Outcome) error {
	logger := c.log.WithFields(logrus.Fields{"job_id": task.JobID, "stage": task.Stage, "seq": task.Seq})

	var failedNow bool
	job, changed, err := c.update(ctx, task.JobID, func(job *models.Job) (bool, error) {
		failedNow = false
		idx := job.FindChunk(task.Stage, task.Seq)
		if idx < 0 {
			return false, fmt.Errorf("%w: %s", models.ErrUnknownChunk, models.ChunkKey(task.Stage, task.Seq))
		}
		if job.Status.IsTerminal() {
			return false, nil
		}
		if stage, ok := models.StageForStatus(job.Status); !ok || stage != task.Stage {
			return false, nil
		}

		chunk := &job.Chunks[idx]
		now := c.now().UTC()

		if outcome.Err != nil {
			if chunk.Status == models.ChunkDone {
				return false, nil
			}
			chunk.Status = models.ChunkFailed
			chunk.Attempts += outcome.Attempts
			chunk.LastError = outcome.Err.Error()
			chunk.DispatchedAt = nil
			c.failJob(job, task.Stage, task.Seq, outcome.Err)
			failedNow = true
			return true, nil
		}

		if outcome.Result == nil {
			return false, fmt.Errorf("outcome for %s has neither result nor error", models.ChunkKey(task.Stage, task.Seq))
		}
		result := *outcome.Result
		result.Stage = task.Stage
		result.Seq = task.Seq
		if chunk.Status == models.ChunkDone && sameResult(job.Result(task.Stage, task.Seq), &result) {
			return false, nil
		}
		job.SetResult(&result)
		chunk.Status = models.ChunkDone
		chunk.Attempts += outcome.Attempts
		chunk.LastError = ""
		chunk.DispatchedAt = nil
		job.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		logger.Debug("Outcome dropped")
		return nil
	}

	if failedNow {
		logger.WithError(outcome.Err).Warn("Chunk failed, job failed")
		c.publish(ctx, job.ID, models.WSMessage{
			Type:    models.EventChunkFailed,
			Payload: models.ChunkEvent{JobID: job.ID, Stage: task.Stage, Seq: task.Seq, Attempts: outcome.Attempts, Error: outcome.Err.Error()},
		})
		c.publishFailure(ctx, job)
		return nil
	}

	logger.WithField("attempts", outcome.Attempts).Info("Chunk done")
	c.publish(ctx, job.ID, models.WSMessage{
		Type:    models.EventChunkDone,
		Payload: models.ChunkEvent{JobID: job.ID, Stage: task.Stage, Seq: task.Seq, Attempts: outcome.Attempts},
	})
	c.publishStatus(ctx, job)
	return nil
}

// sameResult compares results by their stored form, ignoring completion time.
func sameResult(a, b *models.ChunkResult) bool {
	if a == nil || b == nil {
		return false
	}
	x, y := *a, *b
	x.CompletedAt, y.CompletedAt = time.Time{}, time.Time{}
	xb, errX := json.Marshal(x)
	yb, errY := json.Marshal(y)
	return errX == nil && errY == nil && bytes.Equal(xb, yb)
}

func (c *Coordinator) failJob(job *models.Job, stage models.Stage, seq int, err error) {
	now := c.now().UTC()
	job.Status = models.JobFailed
	job.Error = &models.JobError{
		Code:    models.ErrorCode(err),
		Message: err.Error(),
		Stage:   stage,
		Seq:     seq,
	}
	job.UpdatedAt = now
	job.CompletedAt = &now
	c.log.WithFields(logrus.Fields{"job_id": job.ID, "stage": stage, "seq": seq}).WithError(err).Error("Job failed")
}

// update loads the job, applies fn, and saves it when fn reports a change.
// A version conflict reloads and reapplies fn, up to cfg.ConflictRetries.
func (c *Coordinator) update(ctx context.Context, id uuid.UUID, fn func(*models.Job) (bool, error)) (*models.Job, bool, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ConflictRetries; attempt++ {
		job, err := c.store.LoadJob(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(job)
		if err != nil {
			return job, false, err
		}
		if !changed {
			return job, false, nil
		}
		err = c.store.SaveJob(ctx, job)
		if err == nil {
			return job, true, nil
		}
		var conflict *models.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return nil, false, fmt.Errorf("failed to save job: %w", err)
		}
		lastErr = err
		c.log.WithFields(logrus.Fields{"job_id": id, "attempt": attempt + 1}).Debug("Version conflict, reloading job")
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
	return nil, false, lastErr
}

func (c *Coordinator) publishStatus(ctx context.Context, job *models.Job) {
	done, total := job.Progress()
	c.publish(ctx, job.ID, models.WSMessage{
		Type: models.EventStatusUpdate,
		Payload: models.StatusUpdate{
			JobID:       job.ID,
			Status:      job.Status,
			ChunksDone:  done,
			ChunksTotal: total,
		},
	})
}

func (c *Coordinator) publishFailure(ctx context.Context, job *models.Job) {
	if job == nil || job.Error == nil {
		return
	}
	c.publish(ctx, job.ID, models.WSMessage{
		Type: models.EventError,
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ErrorCode:    job.Error.Code,
			ErrorMessage: job.Error.Message,
		},
	})
}

func (c *Coordinator) publish(ctx context.Context, jobID uuid.UUID, msg models.WSMessage) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, jobID, msg); err != nil {
		c.log.WithField("job_id", jobID).WithError(err).Warn("Failed to publish job event")
	}
}
