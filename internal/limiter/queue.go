// Package limiter caps how many heavyweight media tasks run at once.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const DefaultLimit = 3

// Queue admits work in FIFO order, at most limit units at a time.
type Queue struct {
	sem     *semaphore.Weighted
	limit   int
	running atomic.Int64
	waiting atomic.Int64
}

type Stats struct {
	Limit   int `json:"limit"`
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

func New(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Limit:   q.limit,
		Running: int(q.running.Load()),
		Waiting: int(q.waiting.Load()),
	}
}

// Do runs fn once a slot is free and returns its result unchanged. The slot
// is released however fn exits, including a panic. If ctx ends while the
// unit is still waiting, fn never runs.
func Do[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	q.waiting.Add(1)
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	if err != nil {
		return zero, fmt.Errorf("waiting for processing slot: %w", err)
	}

	q.running.Add(1)
	defer func() {
		q.running.Add(-1)
		q.sem.Release(1)
	}()

	return fn(ctx)
}
