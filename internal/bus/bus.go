// Package bus is the in-process publish/subscribe backbone of the sync
// pipeline. All handlers run on a single dispatch goroutine, so per-topic
// delivery order equals publication order and handlers never race each
// other.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Topic names a named event stream.
type Topic string

// Topics used by the engine core.
const (
	TopicFileChange          Topic = "file_change"
	TopicChangeAnalyzed      Topic = "change_analyzed"
	TopicAssignmentMade      Topic = "assignment_made"
	TopicTaskCompleted       Topic = "task_completed"
	TopicHandoffTriggered    Topic = "handoff_triggered"
	TopicConflictDetected    Topic = "conflict_detected"
	TopicComponentError      Topic = "component_error"
	TopicHealthCheckComplete Topic = "health_check_complete"
)

// defaultQueueSize bounds each topic's queue when none is configured.
const defaultQueueSize = 256

// slowHandlerThreshold triggers a warning log for long-running handlers.
const slowHandlerThreshold = 5 * time.Second

// Event is one published message.
type Event struct {
	Topic       Topic
	Payload     any
	PublishedAt time.Time
}

// Handler consumes events on the dispatch goroutine. Handlers must return
// promptly or delegate long work to their own goroutines.
type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      string
	topic   Topic
	handler Handler
}

// Stats is a snapshot of bus counters.
type Stats struct {
	HandlersRegistered int
	Published          uint64
	Dispatched         uint64
	Dropped            uint64
}

// Bus is a bounded, drop-oldest publish/subscribe dispatcher.
type Bus struct {
	queueSize int

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[Topic][]Event
	subs    map[Topic][]*Subscription
	stats   Stats
	stopped bool

	wg sync.WaitGroup
}

// New creates a Bus with the given per-topic queue bound; 0 uses the
// default.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b := &Bus{
		queueSize: queueSize,
		queues:    make(map[Topic][]Event),
		subs:      make(map[Topic][]*Subscription),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Run starts the dispatch loop and blocks until ctx is done and the queues
// drain. Handlers for all topics run on this goroutine.
func (b *Bus) Run(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		b.mu.Lock()
		b.stopped = true
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	for {
		event, ok := b.next()
		if !ok {
			b.wg.Wait()
			return
		}
		b.deliver(event)
	}
}

// Publish enqueues an event and returns immediately. On a full topic queue
// the oldest event is displaced and counted as dropped.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	queue := b.queues[topic]
	if len(queue) >= b.queueSize {
		queue = queue[1:]
		b.stats.Dropped++
		log.Warn("event displaced on full queue", "topic", topic, "size", b.queueSize)
	}
	b.queues[topic] = append(queue, Event{
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now(),
	})
	b.stats.Published++
	b.cond.Signal()
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), topic: topic, handler: handler}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.stats.HandlersRegistered++
	return sub
}

// Unsubscribe removes the subscription synchronously. Events still queued on
// the topic will not be delivered to the removed handler.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			b.stats.HandlersRegistered--
			return
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// next blocks until an event is available or the bus has stopped and
// drained.
func (b *Bus) next() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		for topic, queue := range b.queues {
			if len(queue) == 0 {
				continue
			}
			event := queue[0]
			b.queues[topic] = queue[1:]
			b.stats.Dispatched++
			return event, true
		}
		if b.stopped {
			return Event{}, false
		}
		b.cond.Wait()
	}
}

// deliver invokes every current subscriber of the event's topic.
func (b *Bus) deliver(event Event) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[event.Topic]))
	for _, sub := range b.subs[event.Topic] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		start := time.Now()
		handler(event)
		if elapsed := time.Since(start); elapsed > slowHandlerThreshold {
			log.Warn("slow event handler", "topic", event.Topic, "elapsed", elapsed)
		}
	}
}
