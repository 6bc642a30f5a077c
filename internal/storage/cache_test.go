package storage

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// MockRedisClient is an in-memory RedisClient.
type MockRedisClient struct {
	mu      sync.Mutex
	data    map[string]string
	pingErr error
	getErr  error
	setErr  error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{data: make(map[string]string)}
}

func (m *MockRedisClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value.(string)
	return nil
}

func (m *MockRedisClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *MockRedisClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MockRedisClient) Ping(ctx context.Context) error { return m.pingErr }

func (m *MockRedisClient) Close() error { return nil }

// ===========================
// CacheManager
// ===========================

func TestCacheManager_ActiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager(ctx, NewMockRedisClient(), DefaultCacheConfig(), logger.Discard())
	require.True(t, cm.IsHealthy())

	_, ok, err := cm.GetActive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	sets := []*catalog.ChallengeSet{sampleSet("/sbc/live/one")}
	require.NoError(t, cm.SetActive(ctx, sets))

	got, ok, err := cm.GetActive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "/sbc/live/one", got[0].Slug)
	assert.Len(t, got[0].Challenges, 2)

	m := cm.GetMetrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
}

func TestCacheManager_SetBySlug(t *testing.T) {
	ctx := context.Background()
	cm := NewCacheManager(ctx, NewMockRedisClient(), DefaultCacheConfig(), logger.Discard())

	set := sampleSet("/sbc/upgrades/gold-upgrade")
	require.NoError(t, cm.SetSet(ctx, set))

	got, ok, err := cm.GetSet(ctx, set.Slug)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, set.Name, got.Name)

	_, ok, err = cm.GetSet(ctx, "/sbc/upgrades/other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheManager_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	client.data["other:key"] = "kept"
	cm := NewCacheManager(ctx, client, DefaultCacheConfig(), logger.Discard())

	require.NoError(t, cm.SetActive(ctx, []*catalog.ChallengeSet{sampleSet("/sbc/live/one")}))
	require.NoError(t, cm.SetSet(ctx, sampleSet("/sbc/live/one")))
	require.NoError(t, cm.InvalidateAll(ctx))

	_, ok, _ := cm.GetActive(ctx)
	assert.False(t, ok)
	_, ok, _ = cm.GetSet(ctx, "/sbc/live/one")
	assert.False(t, ok)
	assert.Equal(t, "kept", client.data["other:key"])
}

func TestCacheManager_DegradesWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	client.pingErr = errors.New("connection refused")
	cm := NewCacheManager(ctx, client, DefaultCacheConfig(), logger.Discard())

	assert.False(t, cm.IsHealthy())
	assert.NoError(t, cm.SetActive(ctx, nil))
	_, ok, err := cm.GetActive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, client.data)
}

func TestCacheManager_ErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	cm := NewCacheManager(ctx, client, DefaultCacheConfig(), logger.Discard())

	client.getErr = errors.New("timeout")
	_, ok, err := cm.GetActive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	client.setErr = errors.New("timeout")
	assert.NoError(t, cm.SetActive(ctx, nil))
	assert.Equal(t, uint64(2), cm.GetMetrics().Errors)
}

func TestCacheManager_DropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	cm := NewCacheManager(ctx, client, DefaultCacheConfig(), logger.Discard())

	client.data[cm.activeKey()] = "{not json"
	_, ok, err := cm.GetActive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, exists := client.data[cm.activeKey()]
	assert.False(t, exists)
}

func TestNullCacheManager(t *testing.T) {
	ctx := context.Background()
	var c CatalogCache = NewNullCacheManager()

	require.NoError(t, c.SetActive(ctx, []*catalog.ChallengeSet{sampleSet("/sbc/live/one")}))
	_, ok, err := c.GetActive(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.InvalidateAll(ctx))
}

// ===========================
// StatusStore
// ===========================

func TestMemoryStatusStore_Lock(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatusStore()

	release, err := s.AcquireLock(ctx, time.Minute)
	require.NoError(t, err)

	_, err = s.AcquireLock(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release(ctx))

	release2, err := s.AcquireLock(ctx, time.Minute)
	require.NoError(t, err)

	// A stale release must not free someone else's lock.
	require.NoError(t, release(ctx))
	_, err = s.AcquireLock(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, release2(ctx))
}

func TestMemoryStatusStore_LockExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatusStore()
	now := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.AcquireLock(ctx, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.AcquireLock(ctx, time.Minute)
	assert.NoError(t, err)
}

func TestMemoryStatusStore_Status(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatusStore()

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)

	require.NoError(t, s.Save(ctx, RunStatus{State: StateRunning, PassID: "p1"}))
	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "p1", st.PassID)
}

func TestRedisStatusStore(t *testing.T) {
	ctx := context.Background()
	client := NewMockRedisClient()
	s := NewRedisStatusStore(client, "")

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st.State)

	started := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, RunStatus{State: StateSucceeded, StartedAt: &started, Persisted: 4}))

	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, 4, st.Persisted)
	require.NotNil(t, st.StartedAt)
	assert.True(t, st.StartedAt.Equal(started))

	release, err := s.AcquireLock(ctx, time.Minute)
	require.NoError(t, err)
	_, err = s.AcquireLock(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, release(ctx))
	_, exists := client.data["sbc:run:lock"]
	assert.False(t, exists)
}
