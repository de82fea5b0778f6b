package eventbus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Publish after Close, and by Subscription.Err once the bus shut down.
var ErrClosed = errors.New("eventbus: closed")

// Event is a raw message published on a topic.
type Event struct {
	Topic   string
	Payload []byte
}

// Bus is an in-memory topic fan-out. Delivery to each subscriber preserves publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	queue  chan Event
	stop   chan struct{}
	closed bool
}

// NewBus constructs an in-memory Bus with the given queue depth.
func NewBus(buffer int) *Bus {
	b := &Bus{
		subs:  make(map[string]map[*Subscription]struct{}),
		queue: make(chan Event, buffer),
		stop:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.stop:
			return
		}
	}
}

// Close stops the bus and ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stop)
	var all []*Subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, s := range all {
		s.end(ErrClosed)
	}
}

// Subscribe registers a subscription on topic. buffer is the per-subscriber queue depth.
func (b *Bus) Subscribe(topic string, buffer int) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Publish enqueues an event.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	select {
	case b.queue <- evt:
		return nil
	case <-b.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers reports how many subscriptions are registered on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs[evt.Topic]))
	for s := range b.subs[evt.Topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(evt.Payload, b.stop)
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

// Subscription receives the payloads published on one topic.
type Subscription struct {
	bus   *Bus
	topic string
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	err   error
}

// C yields payloads in publish order.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Done is closed when the subscription ends, by Close or by the bus shutting down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil while active or after Close, ErrClosed after bus shutdown.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.end(nil)
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) deliver(payload []byte, stop <-chan struct{}) {
	select {
	case s.ch <- payload:
	case <-s.done:
	case <-stop:
	}
}
