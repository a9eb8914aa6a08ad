// Package queue buffers changed paths between the file watcher and the
// rebuild loop.
package queue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type EnqueueResult string

const (
	EnqueueAccepted EnqueueResult = "accepted"
	EnqueueDropped  EnqueueResult = "dropped"
)

// MemoryQueue is a bounded FIFO of changed paths. Enqueue never blocks; a
// path that does not fit is dropped and the overflow is remembered so the
// consumer can fall back to a full rebuild.
type MemoryQueue struct {
	ch       chan string
	mu       sync.RWMutex
	closed   bool
	overflow atomic.Bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue{ch: make(chan string, capacity)}
}

func (q *MemoryQueue) Enqueue(path string) EnqueueResult {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return EnqueueDropped
	}
	select {
	case q.ch <- path:
		return EnqueueAccepted
	default:
		q.overflow.Store(true)
		return EnqueueDropped
	}
}

// TakeOverflow reports whether any path was dropped since the last call.
func (q *MemoryQueue) TakeOverflow() bool {
	return q.overflow.Swap(false)
}

// DequeueBatch waits up to wait for a first path, then drains whatever else
// is queued, up to maxItems. A zero wait polls. io.EOF is returned once the
// queue is closed and empty.
func (q *MemoryQueue) DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]string, error) {
	if maxItems <= 0 {
		maxItems = 1
	}
	batch := make([]string, 0, maxItems)

	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}

	select {
	case path, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		batch = append(batch, path)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		if wait <= 0 {
			return nil, nil
		}
		select {
		case path, ok := <-q.ch:
			if !ok {
				return nil, io.EOF
			}
			batch = append(batch, path)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer:
			return nil, nil
		}
	}

	for len(batch) < maxItems {
		select {
		case path, ok := <-q.ch:
			if !ok {
				return batch, io.EOF
			}
			batch = append(batch, path)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}

func (q *MemoryQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}
