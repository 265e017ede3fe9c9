package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/authd/pkg/auth"
	"github.com/agrinova/authd/pkg/observability"
)

func testSession(id string, expiresIn time.Duration) *Session {
	now := time.Now()
	return &Session{
		Principal:   &auth.Principal{ID: id, Role: auth.RoleMandor},
		AccessToken: "token-" + id,
		ExpiresAt:   now.Add(expiresIn),
		IssuedAt:    now,
		Strategy:    auth.Strategy{Platform: auth.PlatformWeb, Method: auth.MethodCookie},
	}
}

type failingBus struct {
	subscribeErr error
	publishErr   error
}

func (f *failingBus) Publish(context.Context, Event) error { return f.publishErr }

func (f *failingBus) Subscribe(func(Event)) (func(), error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return func() {}, nil
}

func (f *failingBus) Close() error { return nil }

func TestNew(t *testing.T) {
	now := time.Now()
	p := &auth.Principal{ID: "u1"}

	sess, err := New(&auth.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(time.Hour), Principal: p}, auth.Strategy{Method: auth.MethodJWT}, now)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.PrincipalID())
	assert.Equal(t, now, sess.IssuedAt)
	assert.Equal(t, time.Hour, sess.TTL(now))

	tests := []struct {
		name   string
		tokens *auth.TokenSet
	}{
		{"nil", nil},
		{"no principal", &auth.TokenSet{AccessToken: "a", ExpiresAt: now.Add(time.Hour)}},
		{"no token", &auth.TokenSet{ExpiresAt: now.Add(time.Hour), Principal: p}},
		{"expired", &auth.TokenSet{AccessToken: "a", ExpiresAt: now, Principal: p}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tokens, auth.Strategy{}, now)
			assert.Error(t, err)
		})
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	sess := &Session{ExpiresAt: now}
	assert.True(t, sess.Expired(now))
	assert.False(t, sess.Expired(now.Add(-time.Nanosecond)))
	assert.Equal(t, time.Duration(0), sess.TTL(now.Add(time.Second)))

	var nilSession *Session
	assert.Equal(t, "", nilSession.PrincipalID())
}

func TestStore_SetAndClear(t *testing.T) {
	store := NewStore()
	defer store.Close()

	assert.Nil(t, store.Current())
	assert.False(t, store.IsValid())
	assert.False(t, store.CrossTabCapable())

	sess := testSession("u1", time.Hour)
	store.Set(t.Context(), sess)
	assert.Same(t, sess, store.Current())
	assert.True(t, store.IsValid())

	store.Clear(t.Context())
	assert.Nil(t, store.Current())
	assert.False(t, store.IsValid())

	// clearing twice is harmless
	store.Clear(t.Context())
}

func TestStore_IsValidExpired(t *testing.T) {
	now := time.Now()
	store := NewStore(WithStoreClock(func() time.Time { return now }))
	store.Set(t.Context(), &Session{Principal: &auth.Principal{ID: "u1"}, ExpiresAt: now})

	assert.NotNil(t, store.Current())
	assert.False(t, store.IsValid())
}

func TestStore_Listeners(t *testing.T) {
	store := NewStore()
	var changes []Change
	unsubscribe := store.Subscribe(func(c Change) { changes = append(changes, c) })

	first := testSession("u1", time.Hour)
	second := testSession("u1", 2*time.Hour)
	store.Set(t.Context(), first)
	store.Set(t.Context(), second)
	store.Clear(t.Context())

	require.Len(t, changes, 3)
	assert.Same(t, first, changes[0].Session)
	assert.Nil(t, changes[0].Previous)
	assert.Same(t, first, changes[1].Previous)
	assert.True(t, changes[2].Cleared())
	assert.Same(t, second, changes[2].Previous)
	assert.False(t, changes[2].Remote)

	unsubscribe()
	unsubscribe()
	store.Set(t.Context(), first)
	assert.Len(t, changes, 3)
}

func TestStore_ListenerCanReadStore(t *testing.T) {
	store := NewStore()
	var seen *Session
	store.Subscribe(func(Change) { seen = store.Current() })

	sess := testSession("u1", time.Hour)
	store.Set(t.Context(), sess)
	assert.Same(t, sess, seen)
}

func TestStore_CrossTabLogout(t *testing.T) {
	bus := NewLocalBus()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tabA := NewStore(WithBroadcaster(bus), WithStoreMetrics(metrics))
	tabB := NewStore(WithBroadcaster(bus), WithStoreMetrics(metrics))
	defer tabA.Close()
	defer tabB.Close()

	assert.True(t, tabA.CrossTabCapable())
	assert.NotEqual(t, tabA.Origin(), tabB.Origin())

	tabA.Set(t.Context(), testSession("u1", time.Hour))
	tabB.Set(t.Context(), testSession("u1", time.Hour))

	var remote []Change
	tabB.Subscribe(func(c Change) { remote = append(remote, c) })

	tabA.Clear(t.Context())

	assert.Nil(t, tabA.Current())
	assert.Nil(t, tabB.Current())
	require.Len(t, remote, 1)
	assert.True(t, remote[0].Remote)
	assert.Equal(t, "u1", remote[0].Previous.PrincipalID())

	// a store ignores its own event and B does not re-publish
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BroadcastReceivedTotal))
}

func TestStore_CrossTabLogoutWithoutSession(t *testing.T) {
	bus := NewLocalBus()
	tabA := NewStore(WithBroadcaster(bus))
	tabB := NewStore(WithBroadcaster(bus))

	notified := false
	tabB.Subscribe(func(Change) { notified = true })

	tabA.Clear(t.Context())
	assert.False(t, notified)
}

func TestStore_BroadcastFailures(t *testing.T) {
	t.Run("subscribe", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		store := NewStore(WithBroadcaster(&failingBus{subscribeErr: errors.New("down")}), WithStoreMetrics(metrics))
		assert.False(t, store.CrossTabCapable())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BroadcastFailuresTotal.WithLabelValues("subscribe")))
	})

	t.Run("publish", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		store := NewStore(WithBroadcaster(&failingBus{publishErr: errors.New("down")}), WithStoreMetrics(metrics))
		require.True(t, store.CrossTabCapable())

		store.Set(t.Context(), testSession("u1", time.Hour))
		store.Clear(t.Context())

		assert.Nil(t, store.Current())
		assert.False(t, store.CrossTabCapable())
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BroadcastFailuresTotal.WithLabelValues("publish")))
	})
}

func TestStore_ScheduleRefresh(t *testing.T) {
	store := NewStore()
	assert.False(t, store.ScheduleRefresh(time.Second, func() {}))

	fired := make(chan struct{}, 1)
	store.Set(t.Context(), testSession("u1", 150*time.Millisecond))
	require.True(t, store.ScheduleRefresh(100*time.Millisecond, func() { fired <- struct{}{} }))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not triggered")
	}
}

func TestStore_ScheduleRefreshInsideLeeway(t *testing.T) {
	store := NewStore()
	store.Set(t.Context(), testSession("u1", 10*time.Millisecond))

	fired := make(chan struct{}, 1)
	store.ScheduleRefresh(time.Minute, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("refresh inside leeway should fire immediately")
	}
}

func TestStore_ClearCancelsRefresh(t *testing.T) {
	store := NewStore()
	store.Set(t.Context(), testSession("u1", 200*time.Millisecond))

	var mu sync.Mutex
	fired := false
	store.ScheduleRefresh(100*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	store.Clear(t.Context())

	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestStore_RescheduleReplacesTimer(t *testing.T) {
	store := NewStore()
	store.Set(t.Context(), testSession("u1", 200*time.Millisecond))

	var mu sync.Mutex
	calls := map[string]int{}
	record := func(name string) func() {
		return func() {
			mu.Lock()
			calls[name]++
			mu.Unlock()
		}
	}
	store.ScheduleRefresh(100*time.Millisecond, record("first"))
	store.ScheduleRefresh(100*time.Millisecond, record("second"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["second"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls["first"])
}

func TestStore_PersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	persister := NewFilePersister(path)

	first := NewStore(WithPersister(persister))
	sess := testSession("u1", time.Hour)
	first.Set(t.Context(), sess)

	second := NewStore(WithPersister(persister))
	var changes []Change
	second.Subscribe(func(c Change) { changes = append(changes, c) })

	restored, err := second.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "u1", restored.PrincipalID())
	assert.Equal(t, sess.AccessToken, second.Current().AccessToken)
	assert.Len(t, changes, 1)

	second.Clear(t.Context())
	loaded, err := persister.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_RestoreErrors(t *testing.T) {
	t.Run("no persister", func(t *testing.T) {
		_, err := NewStore().Restore(t.Context())
		assert.ErrorIs(t, err, auth.ErrNoSession)
	})

	t.Run("nothing stored", func(t *testing.T) {
		store := NewStore(WithPersister(NewFilePersister(filepath.Join(t.TempDir(), "none.json"))))
		_, err := store.Restore(t.Context())
		assert.ErrorIs(t, err, auth.ErrNoSession)
	})

	t.Run("expired", func(t *testing.T) {
		persister := NewFilePersister(filepath.Join(t.TempDir(), "session.json"))
		require.NoError(t, persister.Save(t.Context(), testSession("u1", -time.Minute)))

		store := NewStore(WithPersister(persister))
		_, err := store.Restore(t.Context())
		assert.ErrorIs(t, err, auth.ErrSessionExpired)
		assert.Nil(t, store.Current())

		loaded, err := persister.Load(t.Context())
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(WithBroadcaster(NewLocalBus()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			store.Set(context.Background(), testSession("u1", time.Hour))
		}()
		go func() {
			defer wg.Done()
			store.Clear(context.Background())
		}()
		go func() {
			defer wg.Done()
			if s := store.Current(); s != nil {
				assert.Equal(t, "u1", s.PrincipalID())
			}
			store.IsValid()
		}()
	}
	wg.Wait()
}

func TestStore_Close(t *testing.T) {
	bus := NewLocalBus()
	tabA := NewStore(WithBroadcaster(bus))
	tabB := NewStore(WithBroadcaster(bus))
	tabB.Set(t.Context(), testSession("u1", time.Hour))

	tabB.Close()
	assert.False(t, tabB.CrossTabCapable())

	tabA.Clear(t.Context())
	assert.NotNil(t, tabB.Current())
}

// gatedPersister wraps a FilePersister and holds Save until release is closed
type gatedPersister struct {
	*FilePersister
	saving  chan struct{}
	release chan struct{}
}

func (g *gatedPersister) Save(ctx context.Context, sess *Session) error {
	close(g.saving)
	<-g.release
	return g.FilePersister.Save(ctx, sess)
}

func TestStore_RemoteLogoutDuringSaveIsNotUndone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	persister := &gatedPersister{
		FilePersister: NewFilePersister(path),
		saving:        make(chan struct{}),
		release:       make(chan struct{}),
	}
	bus := NewLocalBus()
	tabA := NewStore(WithBroadcaster(bus), WithPersister(persister))
	tabB := NewStore(WithBroadcaster(bus))
	defer tabA.Close()
	defer tabB.Close()

	setDone := make(chan struct{})
	go func() {
		defer close(setDone)
		tabA.Set(context.Background(), testSession("u1", time.Hour))
	}()
	<-persister.saving

	clearDone := make(chan struct{})
	go func() {
		defer close(clearDone)
		tabB.Clear(context.Background())
	}()

	select {
	case <-clearDone:
		t.Fatal("remote logout finished while the save was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(persister.release)
	<-setDone
	<-clearDone

	assert.Nil(t, tabA.Current())
	stored, err := persister.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, stored, "the logged out session must not stay on disk")

	restarted := NewStore(WithPersister(NewFilePersister(path)))
	defer restarted.Close()
	_, err = restarted.Restore(t.Context())
	assert.ErrorIs(t, err, auth.ErrNoSession)
}
