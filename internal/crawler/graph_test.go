package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNodes_StablePreOrder(t *testing.T) {
	var root any
	require.NoError(t, json.Unmarshal([]byte(`{
		"z": {"kind": "hit", "id": 3},
		"a": [{"kind": "hit", "id": 1, "child": {"kind": "hit", "id": 2}}],
		"m": {"kind": "miss"}
	}`), &root))

	nodes := findNodes(root, func(n map[string]any) bool { return n["kind"] == "hit" })
	require.Len(t, nodes, 3)
	ids := []float64{nodes[0]["id"].(float64), nodes[1]["id"].(float64), nodes[2]["id"].(float64)}
	assert.Equal(t, []float64{1, 2, 3}, ids)
}

func TestFirstString(t *testing.T) {
	n := map[string]any{"title": "  ", "name": " Gold Upgrade ", "label": 4}
	assert.Equal(t, "Gold Upgrade", firstString(n, "label", "title", "name"))
	assert.Equal(t, "", firstString(n, "missing"))
}

func TestFirstInt(t *testing.T) {
	n := map[string]any{
		"cost":  map[string]any{"amount": "12,500"},
		"price": 9500.0,
		"bad":   "n/a",
	}
	v, ok := firstInt(n, "bad", "cost")
	require.True(t, ok)
	assert.Equal(t, 12500, v)

	v, ok = firstInt(n, "price")
	require.True(t, ok)
	assert.Equal(t, 9500, v)

	_, ok = firstInt(n, "bad", "none")
	assert.False(t, ok)
}

func TestTextList(t *testing.T) {
	var v any
	require.NoError(t, json.Unmarshal([]byte(`[
		"Min. Team Rating: 84\nMin. Squad Chemistry: 30",
		{"text": "Exactly 11 Players"},
		{"other": 1},
		["  nested  "]
	]`), &v))

	assert.Equal(t, []string{
		"Min. Team Rating: 84",
		"Min. Squad Chemistry: 30",
		"Exactly 11 Players",
		"nested",
	}, textList(v))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12,500", 12500, true},
		{"12.5K", 12500, true},
		{"1.2m", 1200000, true},
		{" 900 ", 900, true},
		{"", 0, false},
		{"k", 0, false},
		{"-5", 0, false},
		{"free", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}
