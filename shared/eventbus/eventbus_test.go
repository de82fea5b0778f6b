package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *Subscription) []byte {
	t.Helper()
	select {
	case p := <-s.C():
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	a, err := bus.Subscribe("audit:findings:u1", 16)
	require.NoError(t, err)
	b, err := bus.Subscribe("audit:findings:u1", 16)
	require.NoError(t, err)

	ctx := context.Background()
	for _, p := range []string{"e1", "e2", "e3"} {
		require.NoError(t, bus.Publish(ctx, Event{Topic: "audit:findings:u1", Payload: []byte(p)}))
	}

	for _, s := range []*Subscription{a, b} {
		assert.Equal(t, "e1", string(receive(t, s)))
		assert.Equal(t, "e2", string(receive(t, s)))
		assert.Equal(t, "e3", string(receive(t, s)))
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	other, err := bus.Subscribe("audit:findings:u2", 4)
	require.NoError(t, err)
	mine, err := bus.Subscribe("audit:findings:u1", 4)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Topic: "audit:findings:u1", Payload: []byte("x")}))
	assert.Equal(t, "x", string(receive(t, mine)))

	select {
	case p := <-other.C():
		t.Fatalf("unexpected payload %q on other topic", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseSubscription(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	s, err := bus.Subscribe("t", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("t"))

	s.Close()
	s.Close()

	assert.Equal(t, 0, bus.Subscribers("t"))
	<-s.Done()
	assert.NoError(t, s.Err())
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(4)
	s, err := bus.Subscribe("t", 1)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	<-s.Done()
	assert.ErrorIs(t, s.Err(), ErrClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Topic: "t"}), ErrClosed)

	_, err = bus.Subscribe("t", 1)
	assert.ErrorIs(t, err, ErrClosed)
}
