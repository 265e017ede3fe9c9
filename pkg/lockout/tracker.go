package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/observability"
)

// Tracker counts failed authentication attempts per principal key and
// enforces temporary lockouts. Implementations must make RecordFailure
// atomic per key.
type Tracker interface {
	// IsLocked reports whether key is locked and for how much longer
	IsLocked(ctx context.Context, key string) (bool, time.Duration, error)
	// RecordFailure counts a failed attempt and locks the key once the
	// threshold is reached
	RecordFailure(ctx context.Context, key string) (Record, error)
	// RecordSuccess clears the key's record
	RecordSuccess(ctx context.Context, key string) error
}

// Config defines lockout policy
type Config struct {
	// Threshold is the number of failures within FailureWindow that locks a key
	Threshold int
	// LockoutDuration is how long a locked key stays locked
	LockoutDuration time.Duration
	// FailureWindow bounds how long failures are remembered; a failure after
	// the window restarts the count
	FailureWindow time.Duration
}

// DefaultConfig returns 5 attempts, 15 minute lockout, 15 minute window
func DefaultConfig() *Config {
	return &Config{
		Threshold:       5,
		LockoutDuration: 15 * time.Minute,
		FailureWindow:   15 * time.Minute,
	}
}

// Validate checks the policy values
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive, got %d", c.Threshold)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("lockout duration must be positive, got %s", c.LockoutDuration)
	}
	if c.FailureWindow <= 0 {
		return fmt.Errorf("failure window must be positive, got %s", c.FailureWindow)
	}
	return nil
}

// Record is the lockout state of one principal key
type Record struct {
	Key             string    `json:"key"`
	FailureCount    int       `json:"failure_count"`
	WindowStartedAt time.Time `json:"window_started_at"`
	LockedUntil     time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the record is locked at now
func (r Record) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// Remaining returns the lockout time left at now
func (r Record) Remaining(now time.Time) time.Duration {
	if !r.Locked(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// Option configures a tracker
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used to report lockouts
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink for lockout counts
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = observability.OrNop(o.logger).WithComponent("lockout")
	return o
}

func normalize(key string) (string, error) {
	k := auth.NormalizeKey(key)
	if k == "" {
		return "", fmt.Errorf("lockout key is empty")
	}
	return k, nil
}

func (o options) reportLockout(rec Record) {
	o.metrics.RecordLockout()
	o.logger.WithFields(map[string]interface{}{
		"key":           rec.Key,
		"failure_count": rec.FailureCount,
		"locked_until":  rec.LockedUntil,
	}).Warn("principal locked out")
}
