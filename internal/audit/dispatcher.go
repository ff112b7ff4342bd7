package audit

import (
	"sync"
	"sync/atomic"
)

// dispatcher moves writes off the request path. When the buffer is full the
// entry is dropped and counted.
type dispatcher struct {
	ch      chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	write   func(Entry)

	// mu orders sends against close: an entry is either queued before
	// intake stops or counted as dropped.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newDispatcher(buffer int, write func(Entry)) *dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &dispatcher{
		ch:    make(chan Entry, buffer),
		done:  make(chan struct{}),
		write: write,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

// enqueue reports false when the entry was dropped.
func (d *dispatcher) enqueue(e Entry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.ch <- e:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// close stops intake and drains what is already queued.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}
