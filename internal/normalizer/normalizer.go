// Package normalizer classifies free-text challenge rules into typed
// requirements.
//
// Classification is a first-match-wins pass over an ordered list of rule
// families. Anything that fits no family is kept as a raw requirement so no
// rule text is ever lost.
package normalizer

import (
	"regexp"
	"strings"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
)

var listMarker = regexp.MustCompile(`^(?:[-–—•·*▪◦●►]+|\(?\d{1,2}[.)])\s+`)

// Classify turns one rule string into a Requirement. It never fails: an
// empty input yields KindEmpty and unrecognised text yields KindRaw.
func Classify(text string) catalog.Requirement {
	collapsed := collapse(text)
	s := canonicalize(collapsed)
	if s == "" {
		return catalog.Requirement{Kind: catalog.KindEmpty}
	}

	for _, f := range families {
		if req, ok := f.match(s); ok {
			req.Kind = f.kind
			req.Text = collapsed
			return req
		}
	}
	return catalog.Requirement{Kind: catalog.KindRaw, Text: collapsed}
}

// ClassifyAll classifies each line in order, dropping empty ones. A line
// whose classification panics is kept as KindRaw.
func ClassifyAll(lines []string) []catalog.Requirement {
	out := make([]catalog.Requirement, 0, len(lines))
	for _, line := range lines {
		req := classifySafe(line)
		if req.Kind == catalog.KindEmpty {
			continue
		}
		out = append(out, req)
	}
	return out
}

func classifySafe(line string) (req catalog.Requirement) {
	defer func() {
		if r := recover(); r != nil {
			req = catalog.Requirement{Kind: catalog.KindRaw, Text: collapse(line)}
			if req.Text == "" {
				req.Kind = catalog.KindEmpty
			}
		}
	}()
	return Classify(line)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalize strips list markers and trailing periods from collapsed text.
func canonicalize(s string) string {
	s = listMarker.ReplaceAllString(s, "")
	s = strings.TrimRight(s, ".")
	return strings.TrimSpace(s)
}
