package pipeline

import "sync"

// Buffered is a queue-backed broadcast channel whose sends are durably queued
// until at least one subscriber has attached. It exists to close the
// subscribe-after-send race: content sent before a consumer subscribes must
// never be silently dropped.
//
// A background forwarder drains the queue once a subscriber exists,
// delivering items in send order. Close blocks until every queued item has
// been forwarded, then closes all subscriber channels.
type Buffered[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	subs   []chan T
	closed bool
	done   chan struct{}
}

// NewBuffered creates the channel and starts its forwarder.
func NewBuffered[T any]() *Buffered[T] {
	b := &Buffered[T]{done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.forward()
	return b
}

// Send queues an item for delivery. Sends after Close are dropped.
func (b *Buffered[T]) Send(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, v)
	b.cond.Broadcast()
}

// Subscribe attaches a consumer. Items queued before the first subscriber
// attached are delivered to it in original order. The returned channel is
// closed once Close has run and the queue is drained.
func (b *Buffered[T]) Subscribe() <-chan T {
	ch := make(chan T)
	b.mu.Lock()
	if b.closed && len(b.queue) == 0 {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	b.cond.Broadcast()
	b.mu.Unlock()
	return ch
}

// Close marks the channel closed and blocks until the forwarder has
// delivered every queued item. Lossless delivery requires that a subscriber
// eventually drains; Close waits for it.
func (b *Buffered[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

func (b *Buffered[T]) forward() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 || len(b.subs) == 0 {
			if b.closed && len(b.queue) == 0 {
				subs := b.subs
				b.subs = nil
				b.mu.Unlock()
				for _, ch := range subs {
					close(ch)
				}
				close(b.done)
				return
			}
			b.cond.Wait()
		}
		item := b.queue[0]
		b.queue = b.queue[1:]
		subs := make([]chan T, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		// Blocking sends keep per-subscriber ordering strict.
		for _, ch := range subs {
			ch <- item
		}
	}
}
