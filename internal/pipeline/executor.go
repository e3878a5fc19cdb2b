package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 5 * time.Minute
	DefaultBaseBackoff    = 2 * time.Second
)

type ExecutorConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// Executor runs one task against the capability it needs, with a timeout on
// every attempt and bounded retries of transient failures.
type Executor struct {
	extractor   Extractor
	transcriber Transcriber
	generator   Generator
	cfg         ExecutorConfig
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewExecutor(extractor Extractor, transcriber Transcriber, generator Generator, cfg ExecutorConfig, log logrus.FieldLogger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * cfg.BaseBackoff
	}
	return &Executor{
		extractor:   extractor,
		transcriber: transcriber,
		generator:   generator,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// Execute never panics on capability errors; failures are reported in the
// Outcome together with the number of attempts made.
func (e *Executor) Execute(ctx context.Context, task Task) Outcome {
	logger := e.log.WithFields(logrus.Fields{
		"job_id": task.JobID,
		"stage":  task.Stage,
		"seq":    task.Seq,
	})

	attempts := 0
	var result *models.ChunkResult

	err := retry.Do(
		func() error {
			attempts++
			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
			defer cancel()

			r, err := e.run(attemptCtx, task)
			if err != nil {
				if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return &models.TransientProviderError{
						Provider: string(task.Stage),
						Err:      fmt.Errorf("attempt timed out after %s: %w", e.cfg.AttemptTimeout, err),
					}
				}
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.MaxAttempts)),
		retry.Delay(e.cfg.BaseBackoff),
		retry.MaxDelay(e.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(models.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithField("attempt", n+1).WithError(err).Warn("Task attempt failed")
		}),
	)
	if err != nil {
		logger.WithField("attempts", attempts).WithError(err).Error("Task failed")
		return Outcome{Err: err, Attempts: attempts}
	}

	result.Stage = task.Stage
	result.Seq = task.Seq
	result.CompletedAt = e.now().UTC()
	logger.WithField("attempts", attempts).Debug("Task completed")
	return Outcome{Result: result, Attempts: attempts}
}

func (e *Executor) run(ctx context.Context, task Task) (*models.ChunkResult, error) {
	switch task.Stage {
	case models.StageExtraction:
		ext, err := e.extractor.Extract(ctx, task.SourceURL)
		if err != nil {
			return nil, err
		}
		return &models.ChunkResult{Extraction: ext}, nil

	case models.StageTranscription:
		if task.Audio == nil || task.Window == nil {
			return nil, &models.PermanentTaskError{Provider: "executor", Err: errors.New("transcription task without audio window")}
		}
		segs, err := e.transcriber.Transcribe(ctx, *task.Audio, *task.Window)
		if err != nil {
			return nil, err
		}
		if segs == nil {
			segs = []models.Segment{}
		}
		return &models.ChunkResult{Segments: segs}, nil

	case models.StageGeneration:
		frag, err := e.generator.Generate(ctx, task.Text, task.Context)
		if err != nil {
			return nil, err
		}
		return &models.ChunkResult{Fragment: frag}, nil
	}
	return nil, &models.PermanentTaskError{Provider: "executor", Err: fmt.Errorf("unknown stage %q", task.Stage)}
}
