// Package ingest is the write and query path for audit findings: it validates
// submissions, persists them with the recomputed score and fans them out to the
// owner's live feed topic.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"auraaudit/pkg/feed"
	"auraaudit/pkg/metrics"
	"auraaudit/pkg/scoring"
	"auraaudit/pkg/validation"
	"auraaudit/services/audit-api/internal/store"
	"auraaudit/shared/logging"
	"auraaudit/shared/types"
)

// Service coordinates the store and the stream publisher.
type Service struct {
	store     store.Store
	publisher feed.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	ingested  metric.Int64Counter
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(st store.Store, pub feed.Publisher, opts ...Option) *Service {
	s := &Service{
		store:     st,
		publisher: pub,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	counter, err := otel.Meter("auraaudit/ingest").Int64Counter("auraaudit.findings.ingested",
		metric.WithDescription("Findings accepted on the ingestion path"))
	if err != nil {
		s.logger.Warn("otel counter init", zap.Error(err))
	}
	s.ingested = counter
	return s
}

// Submit validates sub, stores it as a pending finding of owner and publishes it.
// A publish failure after a successful write is logged and counted, not returned.
func (s *Service) Submit(ctx context.Context, owner store.Owner, sub validation.Submission) (types.AuditFinding, types.Identity, error) {
	if err := validation.ValidateSubmission(sub); err != nil {
		s.metrics.Rejected("validation")
		return types.AuditFinding{}, types.Identity{}, err
	}

	f := types.AuditFinding{
		ID:          s.newID(),
		Severity:    sub.Severity,
		Title:       sub.Title,
		Description: sub.Description,
		Category:    sub.Category,
		Status:      types.StatusPending,
		Timestamp:   s.now().UTC().Truncate(time.Millisecond),
	}

	identity, err := s.store.InsertFinding(ctx, owner, f)
	if err != nil {
		s.metrics.Rejected("store")
		return types.AuditFinding{}, types.Identity{}, err
	}
	s.metrics.Ingested(string(f.Severity))
	if s.ingested != nil {
		s.ingested.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", string(f.Severity))))
	}
	s.logger.Info("finding stored",
		zap.String("user_id", owner.UserID),
		zap.String("finding_id", f.ID),
		zap.String("severity", string(f.Severity)),
		zap.String("title", validation.SanitizeForLog(f.Title)),
		zap.Int("reputation_score", identity.ReputationScore),
	)

	s.publish(ctx, owner.UserID, f)
	return f, identity, nil
}

func (s *Service) publish(ctx context.Context, userID string, f types.AuditFinding) {
	payload, err := json.Marshal(f)
	if err == nil {
		err = s.publisher.Publish(ctx, feed.TopicForUser(userID), payload)
	}
	if err != nil {
		s.metrics.PublishFailed()
		s.logger.Warn("finding stored but not published",
			zap.String("user_id", userID),
			zap.String("finding_id", f.ID),
			zap.Error(err),
		)
	}
}

// Overview is the stored findings of a user in creation order with their score.
type Overview struct {
	Findings []types.AuditFinding `json:"findings"`
	Counts   scoring.Counts       `json:"counts"`
	Score    scoring.Score        `json:"score"`
}

func (s *Service) Overview(ctx context.Context, userID string) (Overview, error) {
	findings, err := s.store.ListFindings(ctx, userID)
	if err != nil {
		return Overview{}, err
	}
	counts := scoring.Tally(findings)
	return Overview{Findings: findings, Counts: counts, Score: scoring.Compute(counts)}, nil
}

// IdentityView pairs the stored identity with the score recomputed from its findings.
type IdentityView struct {
	Identity   types.Identity `json:"identity"`
	Computed   scoring.Score  `json:"computed"`
	Consistent bool           `json:"consistent"`
}

// Identity returns the stored identity record. A user with no record yet gets the
// implicit identity at maximum score.
func (s *Service) Identity(ctx context.Context, userID string) (IdentityView, error) {
	identity, err := s.store.GetIdentity(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		identity = types.Identity{UserID: userID, ReputationScore: scoring.MaxScore}
	case err != nil:
		return IdentityView{}, err
	}

	findings, err := s.store.ListFindings(ctx, userID)
	if err != nil {
		return IdentityView{}, err
	}
	computed := scoring.FromFindings(findings)
	return IdentityView{
		Identity:   identity,
		Computed:   computed,
		Consistent: computed.Value == identity.ReputationScore,
	}, nil
}

// UpdateStatus changes the review status of one of userID's findings.
func (s *Service) UpdateStatus(ctx context.Context, userID, findingID string, status types.Status) (types.AuditFinding, error) {
	if err := validation.ValidateStatus(status); err != nil {
		return types.AuditFinding{}, err
	}
	return s.store.UpdateStatus(ctx, userID, findingID, status)
}
