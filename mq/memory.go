package mq

import (
	"errors"
	"sync"

	"github.com/JellyTony/zkpool/events"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// MemoryQueue is an in-process share event queue.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan events.ShareEvent
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan events.ShareEvent, size)}
}

func (q *MemoryQueue) Publish(evt events.ShareEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- evt:
		return nil
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Subscribe() <-chan events.ShareEvent {
	return q.ch
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
