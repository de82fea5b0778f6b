package feed

import (
	"context"

	"auraaudit/pkg/circuitbreaker"
)

// GuardedPublisher stops publishing through an unhealthy transport for a cool-down
// period. Calls fail fast with circuitbreaker.ErrCircuitOpen while it is open.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuitbreaker.Breaker
}

func NewGuardedPublisher(next Publisher, b *circuitbreaker.Breaker) *GuardedPublisher {
	return &GuardedPublisher{next: next, breaker: b}
}

func (p *GuardedPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.breaker.Execute(func() error {
		return p.next.Publish(ctx, topic, payload)
	})
}

func (p *GuardedPublisher) State() circuitbreaker.State { return p.breaker.State() }
