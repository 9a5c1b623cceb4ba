// Package eventbus implements the typed publish-subscribe surface used by
// the supervisor, the file watcher, and connected duplex-channel clients.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
)

// DefaultSubscriberBuffer bounds each subscriber's outgoing queue. A slow
// subscriber never blocks a publisher: once full, the oldest queued event
// is dropped and replaced with a droppedEvents marker.
const DefaultSubscriberBuffer = 256

type subscriber struct {
	id      int64
	ch      chan models.Event
	dropped int64
}

// Bus is a best-effort broadcast publish-subscribe hub. Publish order is
// preserved per subscriber; delivery across subscribers is independent, so
// one slow subscriber never affects another.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int64]*subscriber
	nextID  atomic.Int64
	bufSize int
	metrics repository.Metrics
}

func New(metrics repository.Metrics) *Bus {
	return &Bus{subs: make(map[int64]*subscriber), bufSize: DefaultSubscriberBuffer, metrics: metrics}
}

// Subscribe registers a new subscriber and returns its event channel and
// an unsubscribe function. The caller should drain the channel promptly;
// slow draining only affects this subscriber, per the drop-oldest policy.
func (b *Bus) Subscribe() (<-chan models.Event, func()) {
	id := b.nextID.Add(1)
	sub := &subscriber{id: id, ch: make(chan models.Event, b.bufSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts event to every current subscriber.
func (b *Bus) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscriber, event models.Event) {
	if trySend(sub.ch, event) {
		return
	}

	// Buffer full: drop the oldest pending event and replace it with a
	// droppedEvents marker before delivering the new event.
	dropOldest(sub.ch)
	dropped := atomic.AddInt64(&sub.dropped, 1)
	if b.metrics != nil {
		b.metrics.RecordEventDropped("subscriber_buffer_full")
	}

	if trySend(sub.ch, models.NewDroppedEvents(int(dropped))) {
		atomic.StoreInt64(&sub.dropped, 0)
	}

	if trySend(sub.ch, event) {
		return
	}
	// Still full after inserting the marker: drop one more to guarantee
	// this event, the caller's most recent, always lands.
	dropOldest(sub.ch)
	atomic.AddInt64(&sub.dropped, 1)
	trySend(sub.ch, event)
}

func trySend(ch chan models.Event, event models.Event) bool {
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

func dropOldest(ch chan models.Event) {
	select {
	case <-ch:
	default:
	}
}
