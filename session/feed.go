/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"sync"
)

// feed is an unbounded, ordered queue drained by a single goroutine, so a
// slow subscriber never blocks the writer that publishes to it.
type feed[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool
}

func newFeed[T any](ctx context.Context, deliver func(T), done func()) *feed[T] {
	f := &feed[T]{}
	f.cond = sync.NewCond(&f.mu)

	context.AfterFunc(ctx, f.close)

	go f.run(deliver, done)

	return f
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.queue = append(f.queue, v)
	f.cond.Signal()
}

func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cond.Broadcast()
}

func (f *feed[T]) run(deliver func(T), done func()) {
	defer done()

	var zero T
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if f.closed {
			f.queue = nil
			f.mu.Unlock()
			return
		}
		v := f.queue[0]
		f.queue[0] = zero
		f.queue = f.queue[1:]
		f.mu.Unlock()

		deliver(v)
	}
}
