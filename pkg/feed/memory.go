package feed

import (
	"context"

	"auraaudit/shared/eventbus"
)

// MemorySource serves subscriptions from an in-process event bus.
type MemorySource struct {
	bus    *eventbus.Bus
	buffer int
}

func NewMemorySource(bus *eventbus.Bus, buffer int) *MemorySource {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemorySource{bus: bus, buffer: buffer}
}

func (m *MemorySource) Subscribe(_ context.Context, topic string) (Stream, error) {
	sub, err := m.bus.Subscribe(topic, m.buffer)
	if err != nil {
		return nil, err
	}
	return &memoryStream{sub: sub}, nil
}

type memoryStream struct {
	sub *eventbus.Subscription
}

func (s *memoryStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.sub.C():
		return p, nil
	case <-s.sub.Done():
		if err := s.sub.Err(); err != nil {
			return nil, err
		}
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memoryStream) Close() error {
	s.sub.Close()
	return nil
}

// MemoryPublisher publishes onto an in-process event bus.
type MemoryPublisher struct {
	bus *eventbus.Bus
}

func NewMemoryPublisher(bus *eventbus.Bus) *MemoryPublisher {
	return &MemoryPublisher{bus: bus}
}

func (p *MemoryPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.bus.Publish(ctx, eventbus.Event{Topic: topic, Payload: payload})
}
