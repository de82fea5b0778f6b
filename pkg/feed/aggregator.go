// Package feed accumulates a live stream of audit findings for one session and
// recomputes the reputation score after every accepted message.
package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"auraaudit/pkg/metrics"
	"auraaudit/pkg/scoring"
	"auraaudit/pkg/validation"
	"auraaudit/shared/logging"
	"auraaudit/shared/types"
)

// ErrAlreadyActive is returned by Start while a subscription is running.
var ErrAlreadyActive = errors.New("feed: aggregator already active")

// State is the aggregator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Update is the feed state after one accepted finding. Findings is a private copy
// owned by the receiver.
type Update struct {
	Findings []types.AuditFinding `json:"findings"`
	Counts   scoring.Counts       `json:"counts"`
	Score    scoring.Score        `json:"score"`
}

// Handlers receive aggregator signals. All of them run on the aggregator's delivery
// goroutine, one at a time, in arrival order. Any of them may be nil.
type Handlers struct {
	OnUpdate         func(Update)
	OnDiagnostic     func(error)
	OnTransportError func(error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithLogger(l *zap.Logger) Option { return func(a *Aggregator) { a.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

// Aggregator owns the ordered findings of one live session.
//
// Idle -> Active on Start; Active -> Idle on Stop or on a transport failure.
// Stop clears the findings; a transport failure keeps them so the caller can render
// a stale view and Start again.
type Aggregator struct {
	source  Source
	topic   string
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	findings []types.AuditFinding
	seen     map[string]struct{}
	sess     *session
}

type session struct {
	handlers  Handlers
	cancel    context.CancelFunc
	done      chan struct{}
	stream    Stream
	closeOnce sync.Once
	stopped   bool // guarded by Aggregator.mu
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (s *session) closeStream(logger *zap.Logger) {
	s.closeOnce.Do(func() {
		if s.stream == nil {
			return
		}
		if err := s.stream.Close(); err != nil {
			logger.Debug("feed stream close", zap.Error(err))
		}
	})
}

// New builds an idle aggregator reading topic from source.
func New(source Source, topic string, opts ...Option) *Aggregator {
	a := &Aggregator{
		source: source,
		topic:  topic,
		logger: zap.NewNop(),
		seen:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Topic is the stream topic this aggregator subscribes to.
func (a *Aggregator) Topic() string { return a.topic }

// Start subscribes to the stream and begins delivering updates. It returns
// ErrAlreadyActive when a subscription is already running, and a *TransportError when
// the subscription cannot be opened. Cancelling ctx ends the subscription like Stop.
func (a *Aggregator) Start(ctx context.Context, h Handlers) error {
	a.mu.Lock()
	if a.sess != nil {
		a.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{handlers: h, cancel: cancel, done: make(chan struct{})}
	a.sess = s
	a.mu.Unlock()

	stream, err := a.source.Subscribe(runCtx, a.topic)

	a.mu.Lock()
	if err != nil {
		stopped := s.stopped
		if a.sess == s {
			a.sess = nil
		}
		a.mu.Unlock()
		cancel()
		close(s.done)
		if stopped {
			return nil
		}
		return &TransportError{Op: "subscribe", Err: err}
	}
	s.stream = stream
	if s.stopped {
		// Stop ran while Subscribe was in flight.
		a.mu.Unlock()
		s.closeStream(a.logger)
		cancel()
		close(s.done)
		return nil
	}
	a.state = StateActive
	a.mu.Unlock()

	a.metrics.SubscriptionStarted()
	a.logger.Debug("feed subscribed", zap.String("topic", a.topic))
	go a.run(runCtx, s)
	return nil
}

// Stop releases the subscription and clears the findings. Once subscribed, the stream
// is closed before Stop returns and no handler starts afterwards. The returned channel
// is closed when the delivery goroutine has exited, so a caller outside the handlers
// can wait with <-agg.Stop(). A handler that calls Stop must not wait on it; the
// running handler is the last one. Stop on an idle aggregator returns a closed channel.
func (a *Aggregator) Stop() <-chan struct{} {
	a.mu.Lock()
	s := a.sess
	if s == nil {
		a.mu.Unlock()
		return closedChan
	}
	a.sess = nil
	a.state = StateIdle
	a.resetLocked()
	s.stopped = true
	subscribed := s.stream != nil
	a.mu.Unlock()

	s.cancel()
	if subscribed {
		s.closeStream(a.logger)
	}
	return s.done
}

// Reset clears the accumulated findings without touching the subscription.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

func (a *Aggregator) resetLocked() {
	a.findings = nil
	a.seen = make(map[string]struct{})
}

// State reports the lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Findings returns a copy of the findings in arrival order.
func (a *Aggregator) Findings() []types.AuditFinding {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.AuditFinding(nil), a.findings...)
}

// Score recomputes the score from the current findings.
func (a *Aggregator) Score() scoring.Score {
	a.mu.Lock()
	defer a.mu.Unlock()
	return scoring.FromFindings(a.findings)
}

// Snapshot returns the current findings with their counts and score.
func (a *Aggregator) Snapshot() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Update {
	findings := append([]types.AuditFinding(nil), a.findings...)
	counts := scoring.Tally(findings)
	return Update{Findings: findings, Counts: counts, Score: scoring.Compute(counts)}
}

// run is the single writer of a.findings for session s.
func (a *Aggregator) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer a.metrics.SubscriptionEnded()

	for {
		data, err := s.stream.Next(ctx)
		if err != nil {
			a.end(ctx, s, err)
			return
		}

		f, perr := validation.ParseFinding(data)
		if perr != nil {
			a.metrics.Discarded()
			a.logger.Debug("feed discarded message", zap.String("topic", a.topic), zap.Error(perr))
			diag := &DiagnosticError{Size: len(data), Err: perr}
			if !a.deliver(s, func() (func(), bool) {
				return func() { call(s.handlers.OnDiagnostic, error(diag)) }, true
			}) {
				return
			}
			continue
		}

		if !a.deliver(s, func() (func(), bool) {
			if _, dup := a.seen[f.ID]; dup {
				return nil, true
			}
			a.seen[f.ID] = struct{}{}
			a.findings = append(a.findings, f)
			upd := a.snapshotLocked()
			return func() { call(s.handlers.OnUpdate, upd) }, true
		}) {
			return
		}
	}
}

// deliver runs prepare under the lock while s is live, then invokes the handler it
// returns outside the lock. It reports false once s has been stopped.
func (a *Aggregator) deliver(s *session, prepare func() (func(), bool)) bool {
	a.mu.Lock()
	if s.stopped {
		a.mu.Unlock()
		return false
	}
	fn, ok := prepare()
	if fn == nil {
		a.mu.Unlock()
		return ok
	}
	a.mu.Unlock()

	a.invoke(fn)
	return ok
}

// invoke isolates the aggregator from panicking handlers.
func (a *Aggregator) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("feed handler panicked", zap.String("topic", a.topic), zap.Any("panic", r))
		}
	}()
	fn()
}

// end handles Next failing: a stop, a cancelled context or a transport failure.
func (a *Aggregator) end(ctx context.Context, s *session, err error) {
	a.mu.Lock()
	stopped := s.stopped
	cancelled := ctx.Err() != nil
	if !stopped {
		s.stopped = true
		if a.sess == s {
			a.sess = nil
			a.state = StateIdle
		}
		if cancelled {
			a.resetLocked()
		}
	}
	a.mu.Unlock()

	s.closeStream(a.logger)
	s.cancel()
	if stopped || cancelled {
		return
	}

	terr := &TransportError{Op: "receive", Err: err}
	a.metrics.TransportFailed()
	a.logger.Warn("feed transport failed", zap.String("topic", a.topic), zap.Error(err))
	if s.handlers.OnTransportError != nil {
		a.invoke(func() { s.handlers.OnTransportError(terr) })
	}
}

func call[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}
