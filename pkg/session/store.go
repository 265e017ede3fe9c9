package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/observability"
)

// Change describes a session transition delivered to listeners
type Change struct {
	// Session is the new session, nil when the session was cleared
	Session *Session
	// Previous is the session that was replaced or cleared
	Previous *Session
	// Remote is true when the clear came from another store's logout
	Remote bool
}

// Cleared reports whether the change ended a session
func (c Change) Cleared() bool {
	return c.Session == nil
}

// Listener observes session changes. Listeners run synchronously on the
// goroutine that made the change, after the store's lock is released.
type Listener func(Change)

// Store holds the single current session of one client instance and keeps
// sibling instances in sync through a Broadcaster
type Store struct {
	mu      sync.RWMutex
	current *Session

	// persistMu orders each in-memory swap with its write to the persister,
	// so the persisted record always matches the last swap
	persistMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	timerMu sync.Mutex
	timer   *time.Timer

	origin      string
	bus         Broadcaster
	unsubscribe func()
	crossTab    atomic.Bool
	persister   Persister

	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithBroadcaster enables cross-instance logout over bus
func WithBroadcaster(bus Broadcaster) StoreOption {
	return func(s *Store) { s.bus = bus }
}

// WithPersister saves every session set and deletes it on clear
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

// WithStoreClock overrides time.Now
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreLogger sets the logger
func WithStoreLogger(logger *observability.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithStoreMetrics sets the metrics sink
func WithStoreMetrics(m *observability.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store. Without a broadcaster, or when
// subscribing fails, the store works alone and CrossTabCapable is false.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		listeners: make(map[int]Listener),
		origin:    uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger).WithComponent("session_store").WithField("origin", s.origin)

	if s.bus != nil {
		unsubscribe, err := s.bus.Subscribe(s.onEvent)
		if err != nil {
			s.logger.WithError(err).Warn("cross-instance logout unavailable")
			s.metrics.RecordBroadcastFailure("subscribe")
		} else {
			s.unsubscribe = unsubscribe
			s.crossTab.Store(true)
		}
	}
	return s
}

// Origin returns the store's instance ID as stamped on published events
func (s *Store) Origin() string {
	return s.origin
}

// Set replaces the current session and persists it. A persistence failure
// is logged and does not undo the change.
func (s *Store) Set(ctx context.Context, sess *Session) {
	s.persistMu.Lock()
	s.mu.Lock()
	previous := s.current
	s.current = sess
	s.mu.Unlock()

	if s.persister != nil && sess != nil {
		if err := s.persister.Save(ctx, sess); err != nil {
			s.logger.WithError(err).Warn("failed to persist session")
		}
	}
	s.persistMu.Unlock()

	s.notify(Change{Session: sess, Previous: previous})
}

// Clear ends the current session locally and tells sibling stores to do the
// same. It is safe to call without a session.
func (s *Store) Clear(ctx context.Context) {
	s.clearLocal(ctx, false)

	if s.bus == nil {
		return
	}
	ev := Event{Type: EventLogout, Origin: s.origin, At: s.now()}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.crossTab.Store(false)
		s.metrics.RecordBroadcastFailure("publish")
		s.logger.WithError(err).Warn("failed to broadcast logout")
	}
}

func (s *Store) clearLocal(ctx context.Context, remote bool) {
	s.persistMu.Lock()
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()

	s.stopTimer()

	if s.persister != nil {
		if err := s.persister.Delete(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to delete persisted session")
		}
	}
	s.persistMu.Unlock()

	if previous != nil {
		s.notify(Change{Previous: previous, Remote: remote})
	}
}

func (s *Store) onEvent(ev Event) {
	if ev.Origin == s.origin || ev.Type != EventLogout {
		return
	}
	s.metrics.RecordBroadcastReceived()
	s.logger.WithField("from", ev.Origin).Debug("logout received from sibling instance")
	s.clearLocal(context.Background(), true)
}

// Current returns the held session or nil. The returned session may be
// expired; use IsValid to check.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsValid reports whether a session is held and not expired
func (s *Store) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && !s.current.Expired(s.now())
}

// Restore loads a persisted session into the store. An expired record is
// deleted and reported as auth.ErrSessionExpired.
func (s *Store) Restore(ctx context.Context) (*Session, error) {
	if s.persister == nil {
		return nil, auth.ErrNoSession
	}

	s.persistMu.Lock()
	sess, err := s.persister.Load(ctx)
	if err != nil {
		s.persistMu.Unlock()
		return nil, err
	}
	if sess == nil {
		s.persistMu.Unlock()
		return nil, auth.ErrNoSession
	}
	if sess.Expired(s.now()) {
		if err := s.persister.Delete(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to delete expired session")
		}
		s.persistMu.Unlock()
		return nil, auth.ErrSessionExpired
	}

	s.mu.Lock()
	previous := s.current
	s.current = sess
	s.mu.Unlock()
	s.persistMu.Unlock()

	s.notify(Change{Session: sess, Previous: previous})
	return sess, nil
}

// Subscribe registers l and returns a func that removes it
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *Store) notify(c Change) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(c)
	}
}

// ScheduleRefresh arranges for fn to run leeway before the current session
// expires, replacing any earlier schedule. It returns false when no session
// is held. A session already inside the leeway triggers fn immediately.
func (s *Store) ScheduleRefresh(leeway time.Duration, fn func()) bool {
	sess := s.Current()
	if sess == nil {
		return false
	}

	delay := sess.ExpiresAt.Add(-leeway).Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, fn)
	return true
}

func (s *Store) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// CrossTabCapable reports whether logouts currently reach sibling stores
func (s *Store) CrossTabCapable() bool {
	return s.crossTab.Load()
}

// Close stops the refresh timer and detaches from the broadcaster. The
// broadcaster itself is owned by the caller.
func (s *Store) Close() {
	s.stopTimer()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.crossTab.Store(false)
}
