package unifiedauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/lockout"
	"github.com/agrinova/authd/pkg/observability"
	"github.com/agrinova/authd/pkg/session"
)

const (
	// DefaultRefreshLeeway is how long before expiry a predictive refresh runs
	DefaultRefreshLeeway = 60 * time.Second

	// DefaultRefreshTimeout bounds a background refresh
	DefaultRefreshTimeout = 30 * time.Second

	tracerName = "github.com/agrinova/authd/pkg/unifiedauth"
)

// ErrStaleRefresh means the identity server returned a session that does
// not outlive the one it replaces
var ErrStaleRefresh = errors.New("refreshed session does not extend expiry")

// Transport performs the network side of authentication. Wrong credentials
// must be reported as (or wrap) auth.ErrInvalidCredentials; anything else is
// treated as an infrastructure failure.
type Transport interface {
	ExchangeCredentials(ctx context.Context, strategy auth.Strategy, creds auth.Credentials) (*auth.TokenSet, error)
	RevokeSession(ctx context.Context, token string) error
	RefreshSession(ctx context.Context, strategy auth.Strategy, refreshToken string) (*auth.TokenSet, error)
}

// Invalidator drops cached authorization decisions for a principal.
// *rbac.Engine implements it.
type Invalidator interface {
	Invalidate(principalID string) int
}

// Service orchestrates login, logout and refresh for one client instance
type Service struct {
	transport   Transport
	lockout     lockout.Tracker
	store       *session.Store
	selector    *auth.Selector
	invalidator Invalidator

	// generation is bumped by every login, logout and remote logout; a
	// login only applies its result while its generation is current
	generation atomic.Uint64
	applyMu    sync.Mutex

	refreshGroup   singleflight.Group
	refreshLeeway  time.Duration
	refreshTimeout time.Duration

	now         func() time.Time
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	unsubscribe func()
}

// Option configures a Service
type Option func(*Service)

// WithInvalidator sets the permission cache to invalidate on session changes
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithSelector overrides the strategy selector
func WithSelector(sel *auth.Selector) Option {
	return func(s *Service) { s.selector = sel }
}

// WithRefreshLeeway sets how long before expiry the predictive refresh runs
func WithRefreshLeeway(d time.Duration) Option {
	return func(s *Service) { s.refreshLeeway = d }
}

// WithRefreshTimeout bounds background refreshes
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) { s.refreshTimeout = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracerProvider sets the tracer provider; the global one is used by
// default
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// NewService wires a service around its collaborators. The service
// subscribes to store so logouts from sibling instances invalidate cached
// decisions and cancel in-flight logins.
func NewService(transport Transport, tracker lockout.Tracker, store *session.Store, opts ...Option) *Service {
	s := &Service{
		transport:      transport,
		lockout:        tracker,
		store:          store,
		selector:       auth.NewSelector(),
		refreshLeeway:  DefaultRefreshLeeway,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.logger = observability.OrNop(s.logger).WithComponent("unifiedauth")
	s.unsubscribe = store.Subscribe(s.onSessionChange)
	return s
}

// Close detaches the service from its store
func (s *Service) Close() {
	s.unsubscribe()
}

// Store returns the underlying session store
func (s *Service) Store() *session.Store {
	return s.store
}

func (s *Service) onSessionChange(c session.Change) {
	if !c.Remote {
		return
	}
	s.generation.Add(1)
	s.invalidate(c.Previous.PrincipalID())
	s.metrics.RecordLogout("remote")
	s.logger.WithField("principal_id", c.Previous.PrincipalID()).Info("session ended by sibling instance")
}

// Login authenticates creds. A locked principal never reaches the
// transport. Transport failures do not count toward lockout.
func (s *Service) Login(ctx context.Context, creds auth.Credentials, client auth.ClientContext) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "unifiedauth.Login")
	defer span.End()

	key := creds.PrincipalKey()
	if key == "" {
		s.metrics.RecordLogin("invalid", "")
		return nil, spanError(span, auth.ErrInvalidCredentials)
	}
	logger := observability.TraceLogger(ctx, s.logger).WithField("principal_key", key)

	locked, remaining, err := s.lockout.IsLocked(ctx, key)
	if err != nil {
		s.metrics.RecordLogin("error", "")
		logger.WithError(err).Error("lockout check failed")
		return nil, spanError(span, fmt.Errorf("%w: %w", auth.ErrLockoutUnavailable, err))
	}
	if locked {
		s.metrics.RecordLogin("locked", "")
		logger.WithField("remaining", remaining.String()).Info("login rejected, principal locked out")
		return nil, spanError(span, &auth.LockedOutError{Key: key, Remaining: remaining})
	}

	strategy := s.selector.Select(client)
	platform := string(strategy.Platform)
	span.SetAttributes(
		attribute.String("auth.platform", platform),
		attribute.String("auth.method", string(strategy.Method)),
	)

	gen := s.generation.Add(1)
	tokens, err := s.transport.ExchangeCredentials(ctx, strategy, creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			rec, lerr := s.lockout.RecordFailure(ctx, key)
			if lerr != nil {
				logger.WithError(lerr).Warn("failed to record login failure")
			} else {
				logger.WithField("failures", rec.FailureCount).Info("invalid credentials")
			}
			s.metrics.RecordLogin("invalid", platform)
			return nil, spanError(span, auth.ErrInvalidCredentials)
		}
		s.metrics.RecordLogin("transport_error", platform)
		logger.WithError(err).Warn("credential exchange failed")
		return nil, spanError(span, asTransportError("exchange", err))
	}

	sess, err := session.New(tokens, strategy, s.now())
	if err != nil {
		s.metrics.RecordLogin("transport_error", platform)
		return nil, spanError(span, &auth.TransportError{Op: "exchange", Err: err})
	}

	if err := s.lockout.RecordSuccess(ctx, key); err != nil {
		logger.WithError(err).Warn("failed to reset lockout record")
	}

	previous, applied := s.apply(ctx, gen, sess)
	if !applied {
		s.metrics.RecordLogin("superseded", platform)
		logger.Info("login superseded, discarding session")
		s.revoke(ctx, sess.AccessToken)
		return nil, spanError(span, auth.ErrLoginSuperseded)
	}

	if previous != nil {
		s.invalidate(previous.PrincipalID())
	}
	s.invalidate(sess.PrincipalID())
	s.scheduleRefresh(sess)

	s.metrics.RecordLogin("success", platform)
	span.SetAttributes(attribute.String("auth.principal_id", sess.PrincipalID()))
	logger.WithField("principal_id", sess.PrincipalID()).Info("login succeeded")
	return sess, nil
}

// apply stores sess if gen is still the current generation
func (s *Service) apply(ctx context.Context, gen uint64, sess *session.Session) (*session.Session, bool) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.generation.Load() != gen {
		return nil, false
	}
	previous := s.store.Current()
	s.store.Set(ctx, sess)
	return previous, true
}

// Logout ends the session locally, tells sibling instances, then revokes
// the token with the identity server. A revoke failure is logged only.
func (s *Service) Logout(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "unifiedauth.Logout")
	defer span.End()
	s.endSession(ctx, "user")
}

func (s *Service) endSession(ctx context.Context, cause string) {
	s.applyMu.Lock()
	s.generation.Add(1)
	sess := s.store.Current()
	s.store.Clear(ctx)
	s.applyMu.Unlock()

	if sess == nil {
		return
	}
	s.invalidate(sess.PrincipalID())
	s.metrics.RecordLogout(cause)
	s.logger.WithFields(map[string]interface{}{
		"principal_id": sess.PrincipalID(),
		"cause":        cause,
	}).Info("session ended")
	s.revoke(ctx, sess.AccessToken)
}

func (s *Service) revoke(ctx context.Context, token string) {
	if err := s.transport.RevokeSession(ctx, token); err != nil {
		s.logger.WithError(err).Warn("failed to revoke session with identity server")
	}
}

// CurrentSession returns the held session. An expired session is refreshed
// when its strategy allows it and ended otherwise.
func (s *Service) CurrentSession(ctx context.Context) (*session.Session, error) {
	sess := s.store.Current()
	if sess == nil {
		return nil, auth.ErrNoSession
	}
	if !sess.Expired(s.now()) {
		return sess, nil
	}

	if sess.Strategy.RefreshRequired && sess.RefreshToken != "" {
		refreshed, err := s.Refresh(ctx)
		if err == nil {
			return refreshed, nil
		}
		s.logger.WithError(err).Info("refresh of expired session failed")
	}
	s.endSession(ctx, "expired")
	return nil, auth.ErrSessionExpired
}

// Refresh exchanges the refresh token for a new session. Concurrent calls
// share one transport round trip, bounded by the refresh timeout rather
// than by any one caller's context.
func (s *Service) Refresh(ctx context.Context) (*session.Session, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		// shared by every waiting caller, so no single caller may cancel it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session), nil
}

func (s *Service) refresh(ctx context.Context) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "unifiedauth.Refresh")
	defer span.End()

	current := s.store.Current()
	if current == nil {
		return nil, spanError(span, auth.ErrNoSession)
	}
	if !current.Strategy.RefreshRequired || current.RefreshToken == "" {
		return nil, spanError(span, auth.ErrRefreshNotAllowed)
	}

	gen := s.generation.Load()
	tokens, err := s.transport.RefreshSession(ctx, current.Strategy, current.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.RecordRefresh("rejected")
			s.endSession(ctx, "refresh_rejected")
			return nil, spanError(span, auth.ErrSessionExpired)
		}
		s.metrics.RecordRefresh("transport_error")
		return nil, spanError(span, asTransportError("refresh", err))
	}

	if tokens.Principal == nil {
		tokens.Principal = current.Principal
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = current.RefreshToken
	}
	if !tokens.ExpiresAt.After(current.ExpiresAt) {
		s.metrics.RecordRefresh("stale")
		return nil, spanError(span, ErrStaleRefresh)
	}

	next, err := session.New(tokens, current.Strategy, s.now())
	if err != nil {
		s.metrics.RecordRefresh("transport_error")
		return nil, spanError(span, &auth.TransportError{Op: "refresh", Err: err})
	}

	s.applyMu.Lock()
	if s.generation.Load() != gen || s.store.Current() != current {
		s.applyMu.Unlock()
		s.metrics.RecordRefresh("superseded")
		return nil, spanError(span, auth.ErrLoginSuperseded)
	}
	s.store.Set(ctx, next)
	s.applyMu.Unlock()

	s.invalidate(next.PrincipalID())
	s.scheduleRefresh(next)
	s.metrics.RecordRefresh("success")
	s.logger.WithFields(map[string]interface{}{
		"principal_id": next.PrincipalID(),
		"expires_at":   next.ExpiresAt,
	}).Debug("session refreshed")
	return next, nil
}

// scheduleRefresh arms the predictive refresh for sessions that need one
func (s *Service) scheduleRefresh(sess *session.Session) {
	if !sess.Strategy.RefreshRequired || sess.RefreshToken == "" {
		return
	}
	s.store.ScheduleRefresh(s.refreshLeeway, func() {
		defer observability.RecoverPanic(s.logger, "predictive refresh")
		if _, err := s.Refresh(context.Background()); err != nil {
			s.logger.WithError(err).Warn("predictive refresh failed")
		}
	})
}

// Restore loads a persisted session at startup
func (s *Service) Restore(ctx context.Context) (*session.Session, error) {
	sess, err := s.store.Restore(ctx)
	if err != nil {
		return nil, err
	}
	s.invalidate(sess.PrincipalID())
	s.scheduleRefresh(sess)
	s.logger.WithField("principal_id", sess.PrincipalID()).Info("session restored")
	return sess, nil
}

// ResolvePrincipal returns the principal of the current session when token
// is its access token
func (s *Service) ResolvePrincipal(ctx context.Context, token string) (*auth.Principal, error) {
	sess, err := s.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(sess.AccessToken)) != 1 {
		return nil, auth.ErrInvalidCredentials
	}
	return sess.Principal, nil
}

func (s *Service) invalidate(principalID string) {
	if s.invalidator == nil || principalID == "" {
		return
	}
	if n := s.invalidator.Invalidate(principalID); n > 0 {
		s.logger.WithFields(map[string]interface{}{
			"principal_id": principalID,
			"entries":      n,
		}).Debug("invalidated cached decisions")
	}
}

func asTransportError(op string, err error) error {
	if auth.IsTransportError(err) {
		return err
	}
	return &auth.TransportError{Op: op, Err: err}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
