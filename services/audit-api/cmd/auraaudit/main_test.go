package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"auraaudit/pkg/feed"
	"auraaudit/pkg/scoring"
	"auraaudit/shared/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	out, err := execute(t, "score", "--critical", "1", "--high", "2", "--low", "1")
	require.NoError(t, err)

	var got scoreOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, scoring.Counts{Critical: 1, High: 2, Low: 1}, got.Counts)
	assert.Equal(t, scoring.Score{Value: 53, Label: scoring.LabelNeedsAttention}, got.Score)
}

func TestScoreCommandNoFindings(t *testing.T) {
	out, err := execute(t, "score")
	require.NoError(t, err)

	var got scoreOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 100, got.Score.Value)
	assert.Equal(t, scoring.LabelExcellent, got.Score.Label)
}

func TestScoreCommandRejectsNegativeCounts(t *testing.T) {
	_, err := execute(t, "score", "--medium", "-1")
	var ee *exitErr
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	_, err := execute(t, "migrate", "sideways")
	require.Error(t, err)
}

func TestTokenRequiresUser(t *testing.T) {
	_, err := execute(t, "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestWatchRejectsBadUserID(t *testing.T) {
	_, err := execute(t, "watch", "--user", "two words")
	var ee *exitErr
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}

type brokenWriter struct{ writes int }

func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("stdout closed")
}

func watchUpdate(id string) feed.Update {
	f := types.AuditFinding{ID: id, Severity: types.SeverityHigh, Title: "t", Description: "d", Category: "c", Status: types.StatusPending}
	counts := scoring.Tally([]types.AuditFinding{f})
	return feed.Update{Findings: []types.AuditFinding{f}, Counts: counts, Score: scoring.Compute(counts)}
}

func TestUpdatePrinterWritesJSONLines(t *testing.T) {
	var out bytes.Buffer
	p := newUpdatePrinter(&out, zap.NewNop())
	p.print(watchUpdate("f-1"))

	var line watchLine
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "f-1", line.Finding.ID)
	assert.Equal(t, 90, line.Score.Value)
}

func TestUpdatePrinterLogsWriteFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := &brokenWriter{}
	p := newUpdatePrinter(w, zap.New(core))

	p.print(watchUpdate("f-1"))
	p.print(watchUpdate("f-2"))

	select {
	case err := <-p.failed:
		assert.EqualError(t, err, "stdout closed")
	default:
		t.Fatal("write failure not reported")
	}
	assert.Equal(t, 1, w.writes)
	entries := logs.FilterMessage("watch output write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "f-1", entries[0].ContextMap()["finding_id"])
}
