// Package server exposes the audit API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"auraaudit/pkg/auth"
	"auraaudit/pkg/feed"
	"auraaudit/pkg/httpx"
	"auraaudit/pkg/metrics"
	otelobs "auraaudit/pkg/observability/otel"
	"auraaudit/pkg/ratelimit"
	"auraaudit/pkg/validation"
	"auraaudit/services/audit-api/internal/ingest"
	"auraaudit/services/audit-api/internal/store"
	"auraaudit/shared/logging"
	"auraaudit/shared/types"
)

// Config wires the server's collaborators. Limiter, Metrics and Logger are optional.
type Config struct {
	ServiceName string
	Service     *ingest.Service
	Source      feed.Source
	JWT         *auth.JWTManager
	BypassPaths []string
	Limiter     ratelimit.Limiter
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	// Health reports backend readiness for /health.
	Health func(context.Context) error
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server holds the HTTP handlers of the audit API.
type Server struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "auraaudit"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if len(cfg.BypassPaths) == 0 {
		cfg.BypassPaths = []string{"/health", "/metrics"}
	}
	return &Server{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

const streamPath = "/api/audit/stream"

// Routes registers the bare handlers.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	mux.HandleFunc("POST /api/audit", s.SubmitHandler)
	mux.HandleFunc("GET /api/audit", s.ListHandler)
	mux.HandleFunc("PATCH /api/audit/{id}", s.UpdateStatusHandler)
	mux.HandleFunc("GET "+streamPath, s.StreamHandler)
	mux.HandleFunc("GET /api/identity", s.IdentityHandler)
	mux.HandleFunc("POST /api/auth/revoke", s.RevokeHandler)
	return mux
}

// Handler returns the routes behind tracing, metrics, access logging, authentication
// and rate limiting, outermost first.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Routes()
	if s.cfg.Limiter != nil {
		h = ratelimit.Middleware(s.cfg.Limiter, s.logger)(h)
	}
	h = auth.NewMiddleware(auth.MiddlewareConfig{
		JWTManager:  s.cfg.JWT,
		BypassPaths: s.cfg.BypassPaths,
		CookiePaths: []string{streamPath},
		Logger:      s.logger,
	}).Authenticate(h)
	h = otelobs.AccessLog(s.logger)(h)
	h = s.cfg.Metrics.Middleware(h)
	return otelobs.WrapHTTPHandler(s.cfg.ServiceName, h)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (s *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validation.MaxMessageSize+1))
	if err != nil {
		s.writeError(w, validation.Errors{{Field: "body", Message: "unreadable or too large"}})
		return
	}
	sub, err := validation.DecodeSubmission(body)
	if err != nil {
		s.cfg.Metrics.Rejected("validation")
		s.writeError(w, err)
		return
	}

	owner := store.Owner{UserID: claims.UserID, DisplayName: claims.DisplayName}
	f, _, err := s.cfg.Service.Submit(r.Context(), owner, sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, submitResponse{Success: true, ID: f.ID})
}

func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	ov, err := s.cfg.Service.Overview(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ov)
}

type statusRequest struct {
	Status types.Status `json:"status"`
}

func (s *Server) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	if !requireJSON(w, r) {
		return
	}
	var req statusRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, validation.MaxMessageSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, validation.Errors{{Field: "body", Message: "invalid json: " + err.Error()}})
		return
	}
	f, err := s.cfg.Service.UpdateStatus(r.Context(), userID, r.PathValue("id"), req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

func (s *Server) IdentityHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	view, err := s.cfg.Service.Identity(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrTypeUnauthorized, "no authentication context")
		return
	}
	if err := s.cfg.JWT.Revoke(r.Context(), claims); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("token revoked", zap.String("user_id", claims.UserID), zap.String("jti", claims.ID))
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// requireJSON rejects write bodies that are not application/json, which also keeps
// plain HTML form posts out.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, httpx.ErrTypeMediaType, "content type must be application/json")
		return false
	}
	return true
}

// writeError maps service errors onto the JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var fieldErrs validation.Errors
	switch {
	case errors.As(err, &fieldErrs):
		httpx.WriteErrorDetails(w, http.StatusBadRequest, httpx.ErrTypeValidation, "validation failed", fieldErrs)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.ErrTypeNotFound, "finding not found")
	case errors.Is(err, store.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, httpx.ErrTypeConflict, "finding already exists")
	default:
		s.logger.Error("request failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrTypeInternal, "internal error")
	}
}
