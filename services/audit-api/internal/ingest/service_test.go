package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auraaudit/pkg/feed"
	"auraaudit/pkg/metrics"
	"auraaudit/pkg/scoring"
	"auraaudit/pkg/validation"
	"auraaudit/services/audit-api/internal/store"
	"auraaudit/shared/types"
)

type recordingPublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func validSubmission(sev types.Severity) validation.Submission {
	return validation.Submission{Severity: sev, Title: "Leaked key", Description: "AWS key in repo", Category: "secrets"}
}

func TestSubmitStoresAndPublishes(t *testing.T) {
	st := store.NewMemory()
	pub := &recordingPublisher{}
	fixed := time.UnixMilli(1_700_000_000_123)
	m := metrics.New("ingesttest")
	svc := New(st, pub, WithClock(func() time.Time { return fixed }), WithMetrics(m))

	f, identity, err := svc.Submit(context.Background(), store.Owner{UserID: "u1"}, validSubmission(types.SeverityHigh))
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, types.StatusPending, f.Status)
	assert.True(t, fixed.Equal(f.Timestamp))
	assert.Equal(t, 90, identity.ReputationScore)

	require.Len(t, pub.topics, 1)
	assert.Equal(t, feed.TopicForUser("u1"), pub.topics[0])
	parsed, err := validation.ParseFinding(pub.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, f.ID, parsed.ID)
	assert.True(t, f.Timestamp.Equal(parsed.Timestamp))

	var wire map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &wire))
	assert.Equal(t, float64(1_700_000_000_123), wire["timestamp"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FindingsIngested.WithLabelValues("high")))
}

func TestSubmitRejectsInvalid(t *testing.T) {
	st := store.NewMemory()
	pub := &recordingPublisher{}
	svc := New(st, pub)

	sub := validSubmission("urgent")
	sub.Title = ""
	_, _, err := svc.Submit(context.Background(), store.Owner{UserID: "u1"}, sub)
	require.ErrorIs(t, err, validation.ErrInvalid)

	var fe validation.Errors
	require.True(t, errors.As(err, &fe))
	assert.Len(t, fe, 2)
	assert.Empty(t, pub.topics)

	list, _ := st.ListFindings(context.Background(), "u1")
	assert.Empty(t, list)
}

func TestPublishFailureIsNotReturned(t *testing.T) {
	st := store.NewMemory()
	m := metrics.New("ingesttest")
	svc := New(st, &recordingPublisher{err: errors.New("broker down")}, WithMetrics(m))

	f, _, err := svc.Submit(context.Background(), store.Owner{UserID: "u1"}, validSubmission(types.SeverityLow))
	require.NoError(t, err)

	list, _ := st.ListFindings(context.Background(), "u1")
	require.Len(t, list, 1)
	assert.Equal(t, f.ID, list[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}

func TestQueryAndStoredScoresAgree(t *testing.T) {
	st := store.NewMemory()
	svc := New(st, &recordingPublisher{})
	ctx := context.Background()

	view, err := svc.Identity(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, scoring.MaxScore, view.Identity.ReputationScore)
	assert.True(t, view.Consistent)

	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityMedium, types.SeverityLow} {
		_, _, err := svc.Submit(ctx, store.Owner{UserID: "u"}, validSubmission(sev))
		require.NoError(t, err)
	}

	view, err = svc.Identity(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 68, view.Identity.ReputationScore)
	assert.Equal(t, 68, view.Computed.Value)
	assert.True(t, view.Consistent)

	ov, err := svc.Overview(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, ov.Findings, 3)
	assert.Equal(t, scoring.Counts{Critical: 1, Medium: 1, Low: 1}, ov.Counts)
	assert.Equal(t, view.Computed, ov.Score)
}

func TestUpdateStatus(t *testing.T) {
	st := store.NewMemory()
	svc := New(st, &recordingPublisher{})
	ctx := context.Background()
	f, _, err := svc.Submit(ctx, store.Owner{UserID: "u"}, validSubmission(types.SeverityLow))
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, "u", f.ID, "archived")
	assert.ErrorIs(t, err, validation.ErrInvalid)

	updated, err := svc.UpdateStatus(ctx, "u", f.ID, types.StatusReviewing)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReviewing, updated.Status)

	_, err = svc.UpdateStatus(ctx, "u", "nope", types.StatusResolved)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
