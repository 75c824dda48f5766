package ui

import (
	"context"
	"sync"
)

// workQueue runs submitted jobs one at a time in submission order. Push never
// blocks, so it is safe to call from the tview event loop.
type workQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{wake: make(chan struct{}, 1)}
}

func (q *workQueue) Push(job func()) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx ends. Jobs still queued at that point are
// dropped.
func (q *workQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			job := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			job()
		}
	}
}
