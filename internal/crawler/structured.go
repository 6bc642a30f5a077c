package crawler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/normalizer"
)

var (
	requirementKeys = []string{
		"requirements", "requirementsText", "requirementTexts", "requirement_texts",
		"rules", "conditions", "constraints", "eligibility",
	}
	childChallengeKeys = []string{"subChallenges", "sub_challenges", "challenges", "squads"}

	stateAssignment = regexp.MustCompile(`window\.__(?:INITIAL_STATE|PRELOADED_STATE|APOLLO_STATE|NUXT|DATA)__\s*=\s*`)
)

// dataBlobs returns the decoded JSON blobs embedded in a page, most specific first.
func dataBlobs(doc *goquery.Document) []any {
	var blobs []any

	decode := func(text string) {
		var v any
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			blobs = append(blobs, normalizeNumbers(v))
		}
	}

	doc.Find(`script#__NEXT_DATA__`).Each(func(_ int, s *goquery.Selection) {
		decode(s.Text())
	})
	doc.Find(`script[type="application/json"], script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if id, _ := s.Attr("id"); id == "__NEXT_DATA__" {
			return
		}
		decode(s.Text())
	})
	doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if loc := stateAssignment.FindStringIndex(text); loc != nil {
			decode(text[loc[1]:])
		}
	})

	return blobs
}

// normalizeNumbers converts json.Number into float64 so callers see one numeric type.
func normalizeNumbers(v any) any {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return f
	case map[string]any:
		for k, item := range n {
			n[k] = normalizeNumbers(item)
		}
		return n
	case []any:
		for i, item := range n {
			n[i] = normalizeNumbers(item)
		}
		return n
	default:
		return v
	}
}

func isChallengeNode(n map[string]any) bool {
	if firstString(n, "name", "title") == "" {
		return false
	}
	for _, k := range requirementKeys {
		if _, ok := n[k]; ok {
			return true
		}
	}
	for _, k := range childChallengeKeys {
		if _, ok := n[k]; ok {
			return true
		}
	}
	return false
}

// challengesFromJSON assembles a Challenge for every challenge-like node that
// carries at least one requirement line. A root object that is itself a
// challenge counts.
func challengesFromJSON(root any) []catalog.Challenge {
	var out []catalog.Challenge
	for _, n := range findNodes(root, isChallengeNode) {
		var lines []string
		for _, k := range requirementKeys {
			if v, ok := n[k]; ok {
				lines = append(lines, requirementLines(v)...)
			}
		}
		reqs := normalizer.ClassifyAll(dedupeStrings(lines))
		if len(reqs) == 0 {
			continue
		}

		c := catalog.Challenge{
			Name:         firstString(n, "name", "title"),
			Requirements: reqs,
		}
		if cost, ok := firstInt(n, "cost", "price", "estimatedCost", "estimated_cost"); ok {
			c.Cost = &cost
		}
		c.RewardText = rewardText(n)
		out = append(out, c)
	}
	return out
}

// requirementLines reads requirement entries, combining label/value pairs.
func requirementLines(v any) []string {
	switch n := v.(type) {
	case []any:
		var out []string
		for _, item := range n {
			out = append(out, requirementLines(item)...)
		}
		return out
	case map[string]any:
		if s := firstString(n, "text", "description", "requirement"); s != "" {
			return []string{s}
		}
		label := firstString(n, "label", "name", "title", "type")
		value := scalarString(n["value"])
		switch {
		case label != "" && value != "":
			return []string{label + ": " + value}
		case label != "":
			return []string{label}
		case value != "":
			return []string{value}
		}
		return nil
	default:
		return textList(v)
	}
}

func rewardText(n map[string]any) string {
	if s := firstString(n, "rewardText", "reward_text", "reward"); s != "" {
		return s
	}
	for _, k := range []string{"reward", "rewards"} {
		if lines := textList(n[k]); len(lines) > 0 {
			return strings.Join(lines, ", ")
		}
	}
	return ""
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// structuredChallenges runs the structured-data tier over a parsed page.
func structuredChallenges(doc *goquery.Document) ([]catalog.Challenge, error) {
	blobs := dataBlobs(doc)
	if len(blobs) == 0 {
		return nil, fmt.Errorf("no embedded data blob")
	}
	for _, blob := range blobs {
		if challenges := challengesFromJSON(blob); len(challenges) > 0 {
			return challenges, nil
		}
	}
	return nil, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
