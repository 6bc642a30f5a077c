package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/crawler"
)

func TestParseCutoff(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	got, err := parseCutoff("2026-10-01T06:30:00+01:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 5, 30, 0, 0, time.UTC), got)

	got, err = parseCutoff("48h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), got)

	for _, bad := range []string{"", "yesterday", "-1h", "0s"} {
		_, err := parseCutoff(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestRunClassify(t *testing.T) {
	t.Run("arguments", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runClassify(strings.NewReader(""), &out, []string{"Min. Team Rating: 84"}))

		var reqs []catalog.Requirement
		require.NoError(t, json.Unmarshal(out.Bytes(), &reqs))
		require.Len(t, reqs, 1)
		assert.Equal(t, catalog.KindTeamRatingMin, reqs[0].Kind)
		require.NotNil(t, reqs[0].Value)
		assert.Equal(t, 84, *reqs[0].Value)
	})

	t.Run("stdin skips blank lines", func(t *testing.T) {
		var out bytes.Buffer
		in := strings.NewReader("Min. Team Rating: 84\n\n   \nsomething else entirely\n")
		require.NoError(t, runClassify(in, &out, nil))

		var reqs []catalog.Requirement
		require.NoError(t, json.Unmarshal(out.Bytes(), &reqs))
		require.Len(t, reqs, 2)
		assert.Equal(t, catalog.KindRaw, reqs[1].Kind)
		assert.Equal(t, "something else entirely", reqs[1].Text)
	})
}

func TestPrintReport(t *testing.T) {
	start := time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC)
	r := &crawler.PassReport{
		PassID:     "p-1",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Sections:   5,
		Discovered: 40,
		Persisted:  38,
		ByTier:     map[string]int{crawler.TierStatic: 30, crawler.TierStructured: 8},
	}

	var text bytes.Buffer
	require.NoError(t, printReport(&text, r, false))
	assert.Contains(t, text.String(), "Persisted:        38")
	assert.Contains(t, text.String(), "Duration:         1m30s")
	assert.Contains(t, text.String(), "via static:")

	var js bytes.Buffer
	require.NoError(t, printReport(&js, r, true))
	var decoded crawler.PassReport
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "p-1", decoded.PassID)
	assert.Equal(t, 38, decoded.Persisted)
}
