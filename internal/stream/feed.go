// Package stream fans persisted audit entries out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"schedulers.app/internal/audit"
)

const defaultBuffer = 16

// Feed fan-outs activity entries to all active subscribers (SSE clients).
type Feed struct {
	mu      sync.RWMutex
	subs    map[int]chan audit.Entry
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New returns an empty feed. buffer sizes each subscriber channel.
func New(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Feed{subs: make(map[int]chan audit.Entry), buffer: buffer}
}

// Subscribe registers a subscriber and returns a channel which will receive entries.
// The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan audit.Entry {
	ch := make(chan audit.Entry, f.buffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs e to all subscribers.
func (f *Feed) Publish(e audit.Entry) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; drop rather than stall the audit write.
			f.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of connected subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped counts entries skipped for slow subscribers.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Tee returns an audit.Store that appends to store and publishes each entry
// that was persisted. Failed appends are never published.
func (f *Feed) Tee(store audit.Store) audit.Store {
	return teeStore{store: store, feed: f}
}

type teeStore struct {
	store audit.Store
	feed  *Feed
}

func (t teeStore) AppendAudit(ctx context.Context, e *audit.Entry) error {
	if err := t.store.AppendAudit(ctx, e); err != nil {
		return err
	}
	t.feed.Publish(*e)
	return nil
}
