package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auraaudit/pkg/database"
	"auraaudit/pkg/scoring"
	"auraaudit/shared/types"
)

func finding(sev types.Severity, ts time.Time) types.AuditFinding {
	return types.AuditFinding{
		ID:          uuid.NewString(),
		Severity:    sev,
		Title:       "title " + string(sev),
		Description: "description",
		Category:    "dependencies",
		Status:      types.StatusPending,
		Timestamp:   ts.UTC().Truncate(time.Millisecond),
	}
}

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	owner := Owner{UserID: user, DisplayName: "Grace"}

	_, err := s.GetIdentity(ctx, user)
	assert.ErrorIs(t, err, ErrNotFound)
	list, err := s.ListFindings(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list)

	base := time.Now()
	f1 := finding(types.SeverityCritical, base)
	f2 := finding(types.SeverityLow, base.Add(time.Second))

	id, err := s.InsertFinding(ctx, owner, f1)
	require.NoError(t, err)
	assert.Equal(t, 75, id.ReputationScore)
	assert.Equal(t, "Grace", id.DisplayName)

	id, err = s.InsertFinding(ctx, Owner{UserID: user}, f2)
	require.NoError(t, err)
	assert.Equal(t, 73, id.ReputationScore)
	assert.Equal(t, "Grace", id.DisplayName, "empty display name keeps the stored one")

	_, err = s.InsertFinding(ctx, owner, f1)
	assert.ErrorIs(t, err, ErrConflict)

	list, err = s.ListFindings(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, f1.ID, list[0].ID)
	assert.Equal(t, f2.ID, list[1].ID)
	assert.True(t, f1.Timestamp.Equal(list[0].Timestamp))

	stored, err := s.GetIdentity(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, scoring.FromFindings(list).Value, stored.ReputationScore)

	updated, err := s.UpdateStatus(ctx, user, f2.ID, types.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, updated.Status)

	_, err = s.UpdateStatus(ctx, user, "missing", types.StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateStatus(ctx, "someone-else", f2.ID, types.StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err = s.GetIdentity(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 73, stored.ReputationScore, "status does not affect the score")

	assertSameInstantKeepsInsertOrder(t, s)
	assert.NoError(t, s.Ping(ctx))
}

// Findings sharing a millisecond come back in insertion order, whatever their ids.
func assertSameInstantKeepsInsertOrder(t *testing.T, s Store) {
	ctx := context.Background()
	user := "tie-" + uuid.NewString()
	at := time.Now()
	want := []string{"zz-" + uuid.NewString(), "mm-" + uuid.NewString(), "aa-" + uuid.NewString()}
	for _, id := range want {
		f := finding(types.SeverityLow, at)
		f.ID = id
		_, err := s.InsertFinding(ctx, Owner{UserID: user}, f)
		require.NoError(t, err)
	}

	list, err := s.ListFindings(ctx, user)
	require.NoError(t, err)
	got := make([]string, len(list))
	for i, f := range list {
		got[i] = f.ID
	}
	assert.Equal(t, want, got)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreConcurrentInserts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := finding(types.SeverityMedium, time.Now())
			f.ID = fmt.Sprintf("f-%d", i)
			_, err := s.InsertFinding(ctx, Owner{UserID: "u"}, f)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	id, err := s.GetIdentity(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 0, id.ReputationScore)
	list, _ := s.ListFindings(ctx, "u")
	assert.Len(t, list, 20)
}

func TestListIsACopy(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_, err := s.InsertFinding(ctx, Owner{UserID: "u"}, finding(types.SeverityHigh, time.Now()))
	require.NoError(t, err)

	list, _ := s.ListFindings(ctx, "u")
	list[0].Title = "changed"
	again, _ := s.ListFindings(ctx, "u")
	assert.NotEqual(t, "changed", again[0].Title)
}

// TestPostgresStore runs against a real database when AURA_TEST_DATABASE_HOST is set.
func TestPostgresStore(t *testing.T) {
	host := os.Getenv("AURA_TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("AURA_TEST_DATABASE_HOST not set")
	}
	cfg := database.DBConfig{
		Host:     host,
		User:     envOr("AURA_TEST_DATABASE_USER", "auraaudit"),
		Password: os.Getenv("AURA_TEST_DATABASE_PASSWORD"),
		DBName:   envOr("AURA_TEST_DATABASE_NAME", "auraaudit_test"),
		SSLMode:  "disable",
	}
	ctx := context.Background()
	require.NoError(t, database.AutoMigrate(ctx, cfg))

	db, err := database.Open(ctx, cfg)
	require.NoError(t, err)
	s := NewPostgres(db)
	defer s.Close()

	exerciseStore(t, s)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
