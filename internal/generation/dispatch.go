package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Dispatcher hands the asynchronous half of a request to a runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// LocalDispatcher runs tasks on goroutines of this process.
type LocalDispatcher struct {
	svc *Service
}

func NewLocalDispatcher(svc *Service) *LocalDispatcher {
	return &LocalDispatcher{svc: svc}
}

// Dispatch rejects an id that already has a run in flight and otherwise
// returns immediately. The run outlives the request context.
func (d *LocalDispatcher) Dispatch(ctx context.Context, task Task) error {
	if !d.svc.acquire(task.ID) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, task.ID)
	}
	runCtx := context.WithoutCancel(ctx)
	d.svc.wg.Add(1)
	go func() {
		defer d.svc.wg.Done()
		defer d.svc.release(task.ID)
		if err := d.svc.run(runCtx, task); err != nil {
			d.svc.logger.Warn("generation run ended with error", zap.String("id", task.ID), zap.Error(err))
		}
	}()
	return nil
}

// Publisher is the slice of a message broker client the queue dispatcher uses.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, v any) error
}

// QueueDispatcher sends tasks to a broker queue consumed by workers.
type QueueDispatcher struct {
	pub   Publisher
	queue string
}

func NewQueueDispatcher(pub Publisher, queue string) *QueueDispatcher {
	return &QueueDispatcher{pub: pub, queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, task Task) error {
	if err := d.pub.PublishJSON(ctx, d.queue, task); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	return nil
}
