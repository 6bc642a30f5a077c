package crawler

import (
	"sort"
	"strconv"
	"strings"
)

// findNodes walks a decoded JSON value depth-first and returns every object
// accepted by pred, in a stable pre-order. Object keys are visited in sorted
// order so results do not depend on map iteration.
func findNodes(root any, pred func(map[string]any) bool) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case map[string]any:
			if pred(n) {
				out = append(out, n)
			}
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(n[k])
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(root)
	return out
}

// firstString returns the first non-empty string value found under any of keys.
func firstString(node map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := node[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstInt returns the first integer-like value under any of keys.
func firstInt(node map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := node[k].(type) {
		case float64:
			return int(v), true
		case string:
			if n, ok := parseAmount(v); ok {
				return n, true
			}
		case map[string]any:
			if n, ok := firstInt(v, "amount", "value", "coins", "price"); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// textList flattens a JSON value into a list of strings. Strings are split
// on newlines; objects contribute their first text-like field.
func textList(v any) []string {
	switch n := v.(type) {
	case string:
		var out []string
		for _, line := range strings.Split(n, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range n {
			out = append(out, textList(item)...)
		}
		return out
	case map[string]any:
		if s := firstString(n, "text", "label", "description", "requirement", "name", "value", "title"); s != "" {
			return []string{s}
		}
	}
	return nil
}

// parseAmount reads an integer out of strings like "12,500" or "12.5K".
func parseAmount(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1_000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "m")
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f*mult + 0.5), true
}
