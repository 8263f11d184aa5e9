package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/duke-git/lancet/v2/slice"
)

// Queue is an advisory FIFO of message ids. Enter waits, for a bounded
// time, until the message queued before it has left.
type Queue struct {
	mu      sync.Mutex
	pending []string
	maxWait time.Duration
	poll    time.Duration
}

func NewQueue(maxWait time.Duration) *Queue {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &Queue{maxWait: maxWait, poll: 100 * time.Millisecond}
}

func (q *Queue) Enter(ctx context.Context, id string) {
	q.mu.Lock()
	var previous string
	if n := len(q.pending); n > 0 {
		previous = q.pending[n-1]
	}
	q.pending = append(q.pending, id)
	q.mu.Unlock()
	if previous == "" {
		return
	}

	deadline := time.NewTimer(q.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for q.contains(previous) {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func (q *Queue) Leave(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slice.Contain(q.pending, id)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
