// Package progressbus fans ProgressEvents out to subscribed observers, one
// topic per scan. It mirrors the teacher's output/dispatcher registration
// pattern (a mutex-guarded slice of receivers, best-effort delivery) but
// subscribers receive events on a channel instead of an OnEvent callback, so
// a front-end can range over it directly.
package progressbus

import (
	"sync"
	"time"

	"github.com/vulnscan/scanengine/pkg/model"
)

// ProgressEvent is one point-in-time view of a scan's progress, matching
// the WebSocket `scan-progress` payload shape.
type ProgressEvent struct {
	ScanID                model.ScanId
	Status                string
	Progress              int
	PagesScanned          int
	TotalPages            int
	VulnerabilitiesFound  int
	FormsFound            int
	EndpointsTested       int
	EstimatedTimeRemaining int
	StartTime             time.Time
	CurrentStage          string
	Vulnerabilities       []model.Finding
}

// ErrorEvent is the `scan-error` payload.
type ErrorEvent struct {
	ScanID  model.ScanId
	Message string
}

const subscriberBuffer = 16

type subscriber struct {
	id int
	ch chan ProgressEvent
}

type topic struct {
	mu          sync.Mutex
	subscribers []*subscriber
	nextID      int
	latest      *ProgressEvent
}

// Bus fans out ProgressEvents to subscribers, keyed by scan id.
type Bus struct {
	mu     sync.Mutex
	topics map[model.ScanId]*topic
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[model.ScanId]*topic)}
}

func (b *Bus) topicFor(scanID model.ScanId) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[scanID]
	if !ok {
		t = &topic{}
		b.topics[scanID] = t
	}
	return t
}

// Subscription is returned by Subscribe. Events arrive on C until
// Unsubscribe is called; C is then closed.
type Subscription struct {
	C      <-chan ProgressEvent
	scanID model.ScanId
	id     int
	bus    *Bus
}

// Unsubscribe stops delivery and closes the subscription's channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.scanID, s.id)
}

// Subscribe joins scanID's topic. If a ProgressEvent has already been
// published for this scan, the subscriber immediately receives that cached
// latest value before any new events.
func (b *Bus) Subscribe(scanID model.ScanId) *Subscription {
	t := b.topicFor(scanID)

	t.mu.Lock()
	t.nextID++
	sub := &subscriber{id: t.nextID, ch: make(chan ProgressEvent, subscriberBuffer)}
	t.subscribers = append(t.subscribers, sub)
	if t.latest != nil {
		sub.ch <- *t.latest
	}
	t.mu.Unlock()

	return &Subscription{C: sub.ch, scanID: scanID, id: sub.id, bus: b}
}

func (b *Bus) unsubscribe(scanID model.ScanId, id int) {
	t := b.topicFor(scanID)
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subscribers {
		if sub.id == id {
			close(sub.ch)
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every current subscriber of scanID and caches
// it as the latest value for subsequent subscribers. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event rather
// than stalling the publisher.
func (b *Bus) Publish(scanID model.ScanId, event ProgressEvent) {
	t := b.topicFor(scanID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = &event
	for _, sub := range t.subscribers {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Close removes scanID's topic entirely, closing every remaining
// subscriber's channel. Call once a scan's ScanState has been destroyed.
func (b *Bus) Close(scanID model.ScanId) {
	b.mu.Lock()
	t, ok := b.topics[scanID]
	if ok {
		delete(b.topics, scanID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subscribers {
		close(sub.ch)
	}
	t.subscribers = nil
}
