package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auraaudit/pkg/metrics"
	"auraaudit/shared/eventbus"
	"auraaudit/shared/types"
)

func TestMemoryFeedEndToEnd(t *testing.T) {
	bus := eventbus.NewBus(16)
	defer bus.Close()

	m := metrics.New("feedtest")
	topic := TopicForUser("alice")
	agg := New(NewMemorySource(bus, 8), topic, WithMetrics(m))
	pub := NewMemoryPublisher(bus)

	rec := newRecorder()
	require.NoError(t, agg.Start(context.Background(), rec.handlers()))
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 }, time.Second, 5*time.Millisecond)

	f := types.AuditFinding{
		ID:          "f-1",
		Severity:    types.SeverityCritical,
		Title:       "Exposed credential",
		Description: "token found in a public gist",
		Category:    "secrets",
		Status:      types.StatusPending,
		Timestamp:   time.UnixMilli(1_700_000_000_000),
	}
	payload, err := json.Marshal(f)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, TopicForUser("bob"), payload))
	require.NoError(t, pub.Publish(ctx, topic, payload))

	u := waitUpdate(t, rec.updates)
	require.Len(t, u.Findings, 1)
	assert.Equal(t, "f-1", u.Findings[0].ID)
	assert.True(t, f.Timestamp.Equal(u.Findings[0].Timestamp))
	assert.Equal(t, 75, u.Score.Value)

	agg.Stop()
	assert.Equal(t, 0, bus.Subscribers(topic))
	assert.Equal(t, StateIdle, agg.State())
}

func TestMemoryBusCloseIsTransportFailure(t *testing.T) {
	bus := eventbus.NewBus(4)
	agg := New(NewMemorySource(bus, 4), "t")
	rec := newRecorder()
	require.NoError(t, agg.Start(context.Background(), rec.handlers()))

	bus.Close()

	err := waitErr(t, rec.transports)
	assert.True(t, errors.Is(err, eventbus.ErrClosed))
	assert.Equal(t, StateIdle, agg.State())
}

func TestMemorySourceOnClosedBus(t *testing.T) {
	bus := eventbus.NewBus(4)
	bus.Close()

	agg := New(NewMemorySource(bus, 4), "t")
	err := agg.Start(context.Background(), Handlers{})
	assert.ErrorIs(t, err, eventbus.ErrClosed)
}

