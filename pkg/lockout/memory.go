package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps lockout records in process memory. One mutex guards
// the map, so increments are atomic per key.
type MemoryTracker struct {
	config  *Config
	opts    options
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryTracker creates an in-process tracker
func NewMemoryTracker(config *Config, opts ...Option) *MemoryTracker {
	if config == nil {
		config = DefaultConfig()
	}
	return &MemoryTracker{
		config:  config,
		opts:    buildOptions(opts),
		records: make(map[string]*Record),
	}
}

// IsLocked reports whether key is locked. An elapsed lockout resets the
// record.
func (t *MemoryTracker) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	k, err := normalize(key)
	if err != nil {
		return false, 0, err
	}
	now := t.opts.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[k]
	if !ok {
		return false, 0, nil
	}
	if rec.Locked(now) {
		return true, rec.Remaining(now), nil
	}
	if !rec.LockedUntil.IsZero() {
		delete(t.records, k)
	}
	return false, 0, nil
}

// RecordFailure counts a failure for key
func (t *MemoryTracker) RecordFailure(ctx context.Context, key string) (Record, error) {
	k, err := normalize(key)
	if err != nil {
		return Record{}, err
	}
	now := t.opts.now()

	t.mu.Lock()
	rec, ok := t.records[k]
	switch {
	case !ok:
		rec = &Record{Key: k, WindowStartedAt: now}
		t.records[k] = rec
	case rec.Locked(now):
		out := *rec
		t.mu.Unlock()
		return out, nil
	case !rec.LockedUntil.IsZero(), now.Sub(rec.WindowStartedAt) >= t.config.FailureWindow:
		// lockout elapsed or window expired: start over
		*rec = Record{Key: k, WindowStartedAt: now}
	}

	rec.FailureCount++
	locked := false
	if rec.FailureCount >= t.config.Threshold {
		rec.LockedUntil = now.Add(t.config.LockoutDuration)
		locked = true
	}
	out := *rec
	t.mu.Unlock()

	if locked {
		t.opts.reportLockout(out)
	}
	return out, nil
}

// RecordSuccess clears key
func (t *MemoryTracker) RecordSuccess(ctx context.Context, key string) error {
	k, err := normalize(key)
	if err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.records, k)
	t.mu.Unlock()
	return nil
}

// Get returns a copy of key's record
func (t *MemoryTracker) Get(key string) (Record, bool) {
	k := normalizeOrEmpty(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[k]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked keys
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep removes records whose window and lockout have both expired and
// returns how many were removed
func (t *MemoryTracker) Sweep() int {
	now := t.opts.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, rec := range t.records {
		if rec.Locked(now) {
			continue
		}
		lockElapsed := !rec.LockedUntil.IsZero()
		windowExpired := now.Sub(rec.WindowStartedAt) >= t.config.FailureWindow
		if lockElapsed || windowExpired {
			delete(t.records, k)
			removed++
		}
	}
	return removed
}

func normalizeOrEmpty(key string) string {
	k, _ := normalize(key)
	return k
}
