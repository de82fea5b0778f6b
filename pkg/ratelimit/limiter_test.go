package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auraaudit/pkg/auth"
)

func TestLocalLimiterBurstThenRefill(t *testing.T) {
	l := NewLocalLimiter(60, 2)
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)
}

func TestLocalLimiterPrunesIdleKeys(t *testing.T) {
	l := NewLocalLimiter(60, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "a")
	_, _ = l.Allow(context.Background(), "b")
	assert.Equal(t, 2, l.Keys())

	now = now.Add(time.Hour)
	_, _ = l.Allow(context.Background(), "c")
	assert.Equal(t, 1, l.Keys())
}

func TestZeroRateDisablesLimiting(t *testing.T) {
	l := NewLocalLimiter(0, 1)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow(context.Background(), "k")
		require.True(t, ok)
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	deny := &stubLimiter{}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/audit", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{UserID: "u1"}))
	Middleware(deny, nil)(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, []string{"user:u1"}, deny.keys)

	failOpen := &stubLimiter{allowed: true, err: errors.New("redis down")}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	Middleware(failOpen, nil)(ok).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"ip:10.0.0.1"}, failOpen.keys)
}
