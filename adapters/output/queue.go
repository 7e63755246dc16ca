package output

import (
	"context"
	"sync"

	"github.com/lshin-apl/bucky/domain/core"
	"github.com/lshin-apl/bucky/ports"
)

// Queue serializes writes from concurrent trial workers into one inner
// sink through a bounded channel: Write blocks when the drain goroutine
// falls behind, so memory stays proportional to the queue size, not the
// ensemble size.
type Queue struct {
	inner ports.FrameSink
	ch    chan *ports.Frame
	done  chan struct{}

	mu       sync.Mutex
	writers  sync.WaitGroup
	closed   bool
	drainErr error
}

// NewQueue starts the drain goroutine over the inner sink.
func NewQueue(inner ports.FrameSink, size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		inner: inner,
		ch:    make(chan *ports.Frame, size),
		done:  make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *Queue) drain() {
	defer close(q.done)
	for f := range q.ch {
		if q.err() != nil {
			continue // keep the channel moving so writers never block forever
		}
		if err := q.inner.Write(context.Background(), f); err != nil {
			q.setErr(err)
		}
	}
}

// Write enqueues one frame. It fails fast once the drain goroutine has hit
// a sink error or the queue is closed.
func (q *Queue) Write(ctx context.Context, f *ports.Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueClosed
	}
	q.writers.Add(1)
	q.mu.Unlock()
	defer q.writers.Done()

	if err := q.err(); err != nil {
		return err
	}
	select {
	case q.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames, waits for everything queued to land in the
// inner sink, and closes it.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return core.ErrQueueClosed
	}
	q.closed = true
	q.mu.Unlock()

	// Wait out in-flight writers before closing the channel under them.
	q.writers.Wait()
	close(q.ch)
	<-q.done

	closeErr := q.inner.Close()
	if err := q.err(); err != nil {
		return err
	}
	return closeErr
}

func (q *Queue) err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainErr
}

func (q *Queue) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drainErr == nil {
		q.drainErr = err
	}
}
