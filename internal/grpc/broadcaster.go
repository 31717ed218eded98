package grpc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-relief-fitness/internal/predictor"
)

// eventBuffer is the per-subscriber queue length. Model events are rare, so a
// full queue means the subscriber is stuck and only needs the newest ones.
const eventBuffer = 4

// Broadcaster fans model events out to WatchModels streams. A subscriber
// whose queue is full loses its oldest queued event, never the newest.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan *ModelEvent
	closed      bool
	nextID      atomic.Uint64
	dropped     atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan *ModelEvent),
	}
}

// Subscribe registers a new stream. After Close the returned channel is
// already closed.
func (b *Broadcaster) Subscribe() (uint64, <-chan *ModelEvent) {
	id := b.nextID.Add(1)
	ch := make(chan *ModelEvent, eventBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *Broadcaster) Broadcast(e *ModelEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		for {
			select {
			case ch <- e:
			default:
				select {
				case <-ch:
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// ModelPublished fans a newly trained model out to stream subscribers.
func (b *Broadcaster) ModelPublished(m *predictor.Model) {
	b.Broadcast(&ModelEvent{
		Model:       m.Info(),
		PublishedAt: time.Now().UTC(),
	})
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many queued events were discarded for slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every stream. Later broadcasts are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
