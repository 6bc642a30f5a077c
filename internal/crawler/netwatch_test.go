package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetWatch_Interesting(t *testing.T) {
	w := newNetWatch("https://www.fut.gg/sbc/live/marquee-matchups/", []string{"api", "sbc"})

	assert.True(t, w.interesting("https://www.fut.gg/api/sbc/123", "application/json"))
	assert.True(t, w.interesting("https://fut.gg/data?sbc=1", "application/json; charset=utf-8"))
	assert.False(t, w.interesting("https://www.fut.gg/api/sbc/123", "text/html"))
	assert.False(t, w.interesting("https://cdn.example.com/api/sbc.json", "application/json"))
	assert.False(t, w.interesting("https://www.fut.gg/static/chunk.json", "application/json"))

	open := newNetWatch("https://www.fut.gg/sbc/", nil)
	assert.True(t, open.interesting("https://www.fut.gg/static/chunk.json", "application/json"))
}

func TestNetWatch_Idle(t *testing.T) {
	base := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	now := base
	w := newNetWatch("https://www.fut.gg/sbc/", nil)
	w.now = func() time.Time { return now }
	w.lastActivity = base

	w.requestStarted("1")
	now = base.Add(time.Second)
	assert.False(t, w.idle(500*time.Millisecond), "request in flight")

	w.requestFinished("1", true)
	assert.False(t, w.idle(500*time.Millisecond), "quiet window not elapsed")

	now = now.Add(600 * time.Millisecond)
	assert.True(t, w.idle(500*time.Millisecond))
}

func TestNetWatch_CapturesOnlySuccessfulInterestingResponses(t *testing.T) {
	w := newNetWatch("https://www.fut.gg/sbc/", []string{"api"})

	w.requestStarted("a")
	w.responseReceived("a", "https://www.fut.gg/api/sbc/1", "application/json")
	w.requestStarted("b")
	w.responseReceived("b", "https://www.fut.gg/api/sbc/2", "application/json")
	w.requestStarted("c")
	w.responseReceived("c", "https://www.fut.gg/img/logo.png", "image/png")

	w.requestFinished("a", true)
	w.requestFinished("b", false)
	w.requestFinished("c", true)

	got := w.responses()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].id)
	assert.Equal(t, "https://www.fut.gg/api/sbc/1", got[0].url)
}

func TestNetWatch_WaitIdleStopsOnContext(t *testing.T) {
	w := newNetWatch("https://www.fut.gg/sbc/", nil)
	w.requestStarted("stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	w.waitIdle(ctx, time.Millisecond, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Error(t, ctx.Err())
}

func TestQuietBudget(t *testing.T) {
	now := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, 45*time.Second-1500*time.Millisecond-captureMargin,
		quietBudget(now.Add(45*time.Second), now, 1500*time.Millisecond))
	assert.Zero(t, quietBudget(now.Add(2*time.Second), now, 1500*time.Millisecond))
	assert.Zero(t, quietBudget(now.Add(-time.Second), now, 0))
}

func TestNetWatch_BusyPageLeavesTimeToCapture(t *testing.T) {
	w := newNetWatch("https://www.fut.gg/sbc/", nil)
	w.requestStarted("long-poll")

	tabCtx, cancel := context.WithTimeout(context.Background(), captureMargin+time.Second)
	defer cancel()
	deadline, _ := tabCtx.Deadline()

	quietCtx, cancelQuiet := context.WithTimeout(tabCtx, quietBudget(deadline, time.Now(), 200*time.Millisecond))
	defer cancelQuiet()

	w.waitIdle(quietCtx, time.Millisecond, 5*time.Millisecond)
	require.Error(t, quietCtx.Err())
	assert.NoError(t, tabCtx.Err(), "the tab must still be usable for the capture")
}
