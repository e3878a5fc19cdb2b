package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/pipeline"
)

// PoolConfig tunes the Redis worker pool.
type PoolConfig struct {
	Workers int
	// BlockTimeout bounds each BLPOP so workers notice Stop.
	BlockTimeout time.Duration
	// LockTTL is how long a task lock survives a crashed worker. It should
	// not exceed the coordinator's chunk lease, or a re-dispatched task is
	// skipped until the lock expires.
	LockTTL time.Duration
}

// Pool is a Redis backed dispatcher: Dispatch pushes tasks on per-stage
// queues and N worker goroutines pop and run them. Several processes can
// share the queues.
type Pool struct {
	redis  *redis.Client
	runner Runner
	coord  Coordinator
	cfg    PoolConfig
	log    logrus.FieldLogger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewPool(redisClient *redis.Client, runner Runner, coord Coordinator, cfg PoolConfig, log logrus.FieldLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Pool{
		redis:    redisClient,
		runner:   runner,
		coord:    coord,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func queueName(stage models.Stage) string {
	return "queue:" + string(stage)
}

// queues lists the stage queues, later stages first so jobs that are
// nearly done drain before new ones start.
func queues() []string {
	names := make([]string, 0, len(models.Stages))
	for i := len(models.Stages) - 1; i >= 0; i-- {
		names = append(names, queueName(models.Stages[i]))
	}
	return names
}

func (p *Pool) Dispatch(ctx context.Context, task pipeline.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return p.redis.LPush(ctx, queueName(task.Stage), data).Err()
}

func (p *Pool) Start() {
	names := queues()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i, names)
	}
	p.log.WithField("workers", p.cfg.Workers).Info("Started worker goroutines")
}

// Stop signals workers and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

func (p *Pool) worker(id int, names []string) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopChan
		cancel()
	}()

	for {
		select {
		case <-p.stopChan:
			log.Info("Worker shutting down")
			return
		default:
		}

		// BLPOP with timeout
		result, err := p.redis.BLPop(ctx, p.cfg.BlockTimeout, names...).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.WithError(err).Warn("Queue pop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var task pipeline.Task
		if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
			log.WithError(err).Error("Failed to parse task")
			continue
		}

		// Try to acquire lock
		lockKey := fmt.Sprintf("task_lock:%s", task.Key())
		locked, err := p.redis.SetNX(ctx, lockKey, id, p.cfg.LockTTL).Result()
		if err != nil || !locked {
			log.WithField("task", task.Key()).Debug("Task already running elsewhere")
			continue
		}

		runTask(ctx, p.runner, p.coord, task, log)

		// Release lock
		p.redis.Del(context.Background(), lockKey)
	}
}
