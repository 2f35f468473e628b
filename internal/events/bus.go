package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when a subscriber asks for a non-positive buffer.
const DefaultBufferSize = 256

// EventBus is a channel-based pub-sub event bus.
// Subscribers follow some topics via Subscribe or every topic via
// SubscribeAll. Publishing never blocks: a full subscriber channel loses
// the event. Consumers that must see every event use SubscribeReliable.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string][]chan Event // topic -> subscriber channels
	allSubs  []chan Event
	lossy    []chan Event // every Subscribe and SubscribeAll channel
	reliable []*queue
	dropped  atomic.Uint64
	closed   bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

func (b *EventBus) newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return make(chan Event, bufSize)
}

// Subscribe returns a channel receiving the events published to any of
// topics.
func (b *EventBus) Subscribe(bufSize int, topics ...string) <-chan Event {
	ch := b.newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if seen[topic] {
			continue
		}
		seen[topic] = true
		b.subs[topic] = append(b.subs[topic], ch)
	}
	b.lossy = append(b.lossy, ch)
	return ch
}

// SubscribeAll returns a channel receiving the events of every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := b.newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	b.lossy = append(b.lossy, ch)
	return ch
}

// SubscribeReliable returns a channel receiving every event published on
// topics, or on any topic when none are given. Events are queued without
// bound, so nothing is lost and publishers never wait on this subscriber.
// The channel is closed once the bus is closed and the queue has drained;
// the caller must keep receiving until then.
func (b *EventBus) SubscribeReliable(topics ...string) <-chan Event {
	q := newQueue(topics)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(q.out)
		return q.out
	}
	b.reliable = append(b.reliable, q)
	go q.pump()
	return q.out
}

// Publish sends an event to the subscribers of topic and to every
// SubscribeAll channel.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	var lost uint64
	for _, ch := range b.subs[topic] {
		if !trySend(ch, event) {
			lost++
		}
	}
	for _, ch := range b.allSubs {
		if !trySend(ch, event) {
			lost++
		}
	}
	for _, q := range b.reliable {
		q.push(topic, event)
	}
	if lost > 0 {
		b.dropped.Add(lost)
	}
}

// Emit publishes an event on the topic given by TopicOf.
// Emit on a nil bus is a no-op, so producers can hold an optional bus.
func (b *EventBus) Emit(event Event) {
	if b == nil {
		return
	}
	b.Publish(TopicOf(event), event)
}

// Dropped returns how many deliveries were lost to full subscriber channels.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

func trySend(ch chan Event, event Event) bool {
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.lossy {
		close(ch)
	}
	for _, q := range b.reliable {
		q.close()
	}
}

// queue backs a reliable subscription: push appends under a short lock and
// pump forwards in order to out.
type queue struct {
	topics map[string]bool // nil means every topic
	out    chan Event
	wake   chan struct{}

	mu      sync.Mutex
	pending []Event
	closed  bool
}

func newQueue(topics []string) *queue {
	q := &queue{
		out:  make(chan Event, DefaultBufferSize),
		wake: make(chan struct{}, 1),
	}
	if len(topics) > 0 {
		q.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			q.topics[t] = true
		}
	}
	return q
}

func (q *queue) push(topic string, event Event) {
	if q.topics != nil && !q.topics[topic] {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, event)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch, closed := q.pending, q.closed
		q.pending = nil
		q.mu.Unlock()

		for _, ev := range batch {
			q.out <- ev
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}
