package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/crawler"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// ===========================
// Mock Implementations
// ===========================

type MockPass struct {
	mu      sync.Mutex
	calls   int
	report  *crawler.PassReport
	err     error
	panicV  any
	block   chan struct{}
	started chan struct{}
}

func (m *MockPass) RunPass(ctx context.Context) (*crawler.PassReport, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return m.report, ctx.Err()
		}
	}
	if m.panicV != nil {
		panic(m.panicV)
	}
	return m.report, m.err
}

func (m *MockPass) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockCache struct {
	storage.NullCacheManager
	mu          sync.Mutex
	invalidated int
}

func (m *MockCache) InvalidateAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
	return nil
}

func (m *MockCache) Invalidated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidated
}

func sampleReport() *crawler.PassReport {
	return &crawler.PassReport{
		PassID:     "pass-1",
		Discovered: 3,
		Persisted:  2,
		Failed:     1,
		ByTier:     map[string]int{},
		Sets:       []*catalog.ChallengeSet{{Slug: "/sbc/live/a", Name: "A"}},
	}
}

func newTestRunner(pass Pass) (*Runner, *storage.MemoryStatusStore, *MockCache) {
	status := storage.NewMemoryStatusStore()
	cache := &MockCache{}
	r := NewRunner(pass, status, cache, DefaultRunnerConfig(), logger.Discard())
	return r, status, cache
}

// ===========================
// RunOnce
// ===========================

func TestRunner_RunOnceSuccess(t *testing.T) {
	pass := &MockPass{report: sampleReport()}
	r, status, cache := newTestRunner(pass)
	ctx := context.Background()

	report, err := r.RunOnce(ctx, TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, "pass-1", report.PassID)

	st, err := status.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.StateSucceeded, st.State)
	assert.Equal(t, TriggerCLI, st.Trigger)
	assert.Equal(t, "pass-1", st.PassID)
	assert.Equal(t, 3, st.Discovered)
	assert.Equal(t, 2, st.Persisted)
	assert.Equal(t, 1, st.Failed)
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.FinishedAt)
	assert.Empty(t, st.Error)

	assert.Equal(t, 1, cache.Invalidated())
	assert.False(t, r.Running())
}

func TestRunner_RunOnceNothingChangedKeepsCache(t *testing.T) {
	pass := &MockPass{report: &crawler.PassReport{PassID: "empty", ByTier: map[string]int{}}}
	r, _, cache := newTestRunner(pass)

	_, err := r.RunOnce(context.Background(), TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, 0, cache.Invalidated())
}

func TestRunner_RunOnceFailure(t *testing.T) {
	pass := &MockPass{report: sampleReport(), err: errors.New("crawl pass interrupted: context canceled")}
	r, status, _ := newTestRunner(pass)
	ctx := context.Background()

	_, err := r.RunOnce(ctx, TriggerSchedule)
	require.Error(t, err)

	st, _ := status.Load(ctx)
	assert.Equal(t, storage.StateFailed, st.State)
	assert.Contains(t, st.Error, "interrupted")
	assert.Equal(t, 2, st.Persisted)
}

func TestRunner_RunOnceRecoversPanic(t *testing.T) {
	pass := &MockPass{panicV: "boom"}
	r, status, _ := newTestRunner(pass)
	ctx := context.Background()

	report, err := r.RunOnce(ctx, TriggerAPI)
	assert.Nil(t, report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	st, _ := status.Load(ctx)
	assert.Equal(t, storage.StateFailed, st.State)

	// The lock was released.
	pass.panicV = nil
	pass.report = sampleReport()
	_, err = r.RunOnce(ctx, TriggerAPI)
	assert.NoError(t, err)
}

func TestRunner_RejectsConcurrentPass(t *testing.T) {
	pass := &MockPass{
		report:  sampleReport(),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	r, status, _ := newTestRunner(pass)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(ctx, TriggerSchedule)
		done <- err
	}()
	<-pass.started

	assert.True(t, r.Running())
	st, _ := status.Load(ctx)
	assert.Equal(t, storage.StateRunning, st.State)

	_, err := r.RunOnce(ctx, TriggerAPI)
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.ErrorIs(t, r.Trigger(TriggerAPI), ErrPassInProgress)

	close(pass.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, pass.Calls())
}

func TestRunner_RespectsLockFromAnotherProcess(t *testing.T) {
	pass := &MockPass{report: sampleReport()}
	r, status, _ := newTestRunner(pass)
	ctx := context.Background()

	release, err := status.AcquireLock(ctx, time.Minute)
	require.NoError(t, err)

	_, err = r.RunOnce(ctx, TriggerSchedule)
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Equal(t, 0, pass.Calls())

	require.NoError(t, release(ctx))
	_, err = r.RunOnce(ctx, TriggerSchedule)
	assert.NoError(t, err)
}

func TestRunner_TriggerRunsInBackground(t *testing.T) {
	pass := &MockPass{report: sampleReport()}
	r, status, _ := newTestRunner(pass)

	require.NoError(t, r.Trigger(TriggerAPI))
	r.Wait()

	assert.Equal(t, 1, pass.Calls())
	st, _ := status.Load(context.Background())
	assert.Equal(t, storage.StateSucceeded, st.State)
	assert.Equal(t, TriggerAPI, st.Trigger)
}

func TestRunner_TriggerStopsWithBaseContext(t *testing.T) {
	pass := &MockPass{report: sampleReport(), block: make(chan struct{})}
	r, status, _ := newTestRunner(pass)

	ctx, cancel := context.WithCancel(context.Background())
	r.SetBaseContext(ctx)
	require.NoError(t, r.Trigger(TriggerAPI))
	cancel()
	r.Wait()

	st, _ := status.Load(context.Background())
	assert.Equal(t, storage.StateFailed, st.State)
}
