package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/pipeline"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// LocalDispatcher runs tasks on in-process goroutines, at most limit at a
// time. It is used when no Redis queue is configured and in tests.
type LocalDispatcher struct {
	runner Runner
	coord  Coordinator
	log    logrus.FieldLogger

	slots  chan struct{} // Token bucket
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(runner Runner, coord Coordinator, limit int, log logrus.FieldLogger) *LocalDispatcher {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	slots := make(chan struct{}, limit)
	for i := 0; i < limit; i++ {
		slots <- struct{}{}
	}
	return &LocalDispatcher{
		runner: runner,
		coord:  coord,
		log:    log,
		slots:  slots,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch never blocks on the task. The request context is not used for
// execution: the task outlives the call that planned it.
func (d *LocalDispatcher) Dispatch(_ context.Context, task pipeline.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-d.slots:
		case <-d.ctx.Done():
			return
		}
		defer func() { d.slots <- struct{}{} }()
		runTask(d.ctx, d.runner, d.coord, task, d.log)
	}()
	return nil
}

// Wait blocks until every dispatched task, including tasks dispatched by
// tasks, has finished.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting tasks, cancels running ones and waits for them.
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
