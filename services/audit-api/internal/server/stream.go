package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"auraaudit/pkg/auth"
	"auraaudit/pkg/feed"
	"auraaudit/pkg/httpx"
)

// SSE event names.
const (
	eventUpdate     = "update"
	eventDiagnostic = "diagnostic"
	eventStale      = "stale"
)

type sseEvent struct {
	name string
	data any
}

type noticeData struct {
	Message string `json:"message"`
}

// StreamHandler delivers the caller's live feed as Server-Sent Events. Each
// connection owns one aggregator; a transport failure sends a final stale event.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	rc := http.NewResponseController(w)

	ctx := r.Context()
	events := make(chan sseEvent, 16)
	quit := make(chan struct{})
	emit := func(ev sseEvent) {
		select {
		case events <- ev:
		case <-quit:
		case <-ctx.Done():
		}
	}

	agg := feed.New(s.cfg.Source, feed.TopicForUser(userID),
		feed.WithLogger(s.logger.With(zap.String("user_id", userID))),
		feed.WithMetrics(s.cfg.Metrics))
	err := agg.Start(ctx, feed.Handlers{
		OnUpdate:         func(u feed.Update) { emit(sseEvent{eventUpdate, u}) },
		OnDiagnostic:     func(err error) { emit(sseEvent{eventDiagnostic, noticeData{err.Error()}}) },
		OnTransportError: func(err error) { emit(sseEvent{eventStale, noticeData{err.Error()}}) },
	})
	if err != nil {
		s.logger.Warn("live feed subscribe failed", zap.String("user_id", userID), zap.Error(err))
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.ErrTypeInternal, "live feed unavailable")
		return
	}
	defer func() { <-agg.Stop() }()
	defer close(quit)

	s.cfg.Metrics.ClientConnected()
	defer s.cfg.Metrics.ClientDisconnected()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	_ = rc.Flush()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()

	var seq int
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case ev := <-events:
			seq++
			if err := writeEvent(w, seq, ev); err != nil {
				s.logger.Debug("live feed client write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			_ = rc.Flush()
			if ev.name == eventStale {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, id int, ev sseEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.name, data)
	return err
}
