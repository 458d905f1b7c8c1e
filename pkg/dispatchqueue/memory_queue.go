package dispatchqueue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue for dev and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []*TaskMessage
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Send(ctx context.Context, msg *TaskMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	clone := *msg
	q.messages = append(q.messages, &clone)
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]*TaskMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.messages) {
		max = len(q.messages)
	}
	out := q.messages[:max]
	q.messages = q.messages[max:]
	return out, nil
}

// Len reports the number of pending messages (tests).
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

var _ Queue = (*MemoryQueue)(nil)
