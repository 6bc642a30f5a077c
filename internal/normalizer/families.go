package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
)

// family is one requirement category. match reports whether its text pattern
// applies and, if so, the populated requirement (Text is filled by the caller).
type family struct {
	kind  catalog.Kind
	match func(s string) (catalog.Requirement, bool)
}

// families is evaluated in order; the first match wins.
var families = []family{
	{catalog.KindTeamRatingMin, matchTeamRating},
	{catalog.KindChemMin, matchChem},
	{catalog.KindMinProgram, matchProgram},
	{catalog.KindMinRarity, matchRarity},
	{catalog.KindPositionReq, matchPosition},
	{catalog.KindMinFrom, matchMinFrom},
	{catalog.KindCountConstraint, matchCountConstraint},
}

var (
	ratingLabel    = regexp.MustCompile(`(?i)^(?:min(?:imum)?\.?\s*)?(?:team|squad)\s+(?:rating|ovr)\s*:?\s*(?:min(?:imum)?\.?\s*)?(\d{1,3})\b`)
	ratingTrailing = regexp.MustCompile(`(?i)\b(?:team|squad)\s+(?:rating|ovr)\b\D*?(\d{1,3})\s*(?:\+|min(?:imum)?\b|or\s+higher\b|or\s+more\b)`)

	chemLabel    = regexp.MustCompile(`(?i)^(?:min(?:imum)?\.?\s*)?(?:(?:squad|team|total)\s+){0,2}chem(?:istry)?(?:\s+points)?\s*:?\s*(?:min(?:imum)?\.?\s*)?(\d{1,3})\b`)
	chemTrailing = regexp.MustCompile(`(?i)\bchem(?:istry)?\b\D*?(\d{1,3})\s*(?:\+|min(?:imum)?\b|or\s+higher\b|or\s+more\b)`)

	programVocab      = regexp.MustCompile(`(?i)\b(?:team\s+of\s+the\s+(?:week|season|year)|tot[wsy]|honou?rable\s+mentions?|highlights|in-?forms?)\b`)
	programAbbrev     = regexp.MustCompile(`\bIF\b`)
	countPhrase       = regexp.MustCompile(`(?i)^(?:min(?:imum)?\.?|at\s+least)\s*\d+\s*(?:players?\b\s*)?(?:from\b\s*)?:?\s*`)
	programSeparator  = regexp.MustCompile(`(?i)\s+or\s+|\s*,\s*|\s*/\s*`)
	programItemSuffix = regexp.MustCompile(`(?i)\s+(?:players?|items?|cards?)$`)

	minCount = regexp.MustCompile(`(?i)\b(?:min(?:imum)?\.?|at\s+least)\s*(\d+)`)

	rarityGold   = regexp.MustCompile(`(?i)\bgold\b`)
	raritySilver = regexp.MustCompile(`(?i)\bsilver\b`)
	rarityBronze = regexp.MustCompile(`(?i)\bbronze\b`)
	rarityRare   = regexp.MustCompile(`(?i)\brare\b`)

	positionVocab = regexp.MustCompile(`\b(GK|RWB|LWB|RB|LB|CB|CDM|CAM|CM|RM|LM|RW|LW|CF|ST)\b`)

	minFromLeading = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:min(?:imum)?\.?|at\s+least)\s*(\d+)\s+players?\s+(?:from|in)\b\s*:?\s*(.+)$`),
		regexp.MustCompile(`(?i)^(\d+)\s*(?:\+|or\s+more)?\s+players?\s+from\b\s*:?\s*(.+)$`),
	}
	minFromTrailing = regexp.MustCompile(`(?i)^players?\s+from\b\s*:?\s*(.+?)\s*:?\s*(?:min(?:imum)?\.?|at\s+least)\s*(\d+)(?:\s+or\s+more)?$`)
	orMoreSuffix    = regexp.MustCompile(`(?i)\s+or\s+more$`)

	// boundedQuantity marks "Exactly N ..." and "Max. N ..." phrasings. Those are
	// count constraints even when they mention a rarity, position or program.
	boundedQuantity = regexp.MustCompile(`(?i)^(?:exactly|max(?:imum)?\.?|no\s+more\s+than|at\s+most|up\s+to)\s*\d`)
	countConstraint = regexp.MustCompile(`(?i)^(exactly|max(?:imum)?\.?|no\s+more\s+than|at\s+most|up\s+to)\s*(\d+)\s+(.+)$`)
)

func matchTeamRating(s string) (catalog.Requirement, bool) {
	v, ok := firstInt(s, ratingLabel, ratingTrailing)
	if !ok {
		return catalog.Requirement{}, false
	}
	return catalog.Requirement{Kind: catalog.KindTeamRatingMin, Value: &v}, true
}

func matchChem(s string) (catalog.Requirement, bool) {
	v, ok := firstInt(s, chemLabel, chemTrailing)
	if !ok {
		return catalog.Requirement{}, false
	}
	return catalog.Requirement{Kind: catalog.KindChemMin, Value: &v}, true
}

func matchProgram(s string) (catalog.Requirement, bool) {
	if boundedQuantity.MatchString(s) {
		return catalog.Requirement{}, false
	}
	if !programVocab.MatchString(s) && !programAbbrev.MatchString(s) {
		return catalog.Requirement{}, false
	}

	req := catalog.Requirement{Kind: catalog.KindMinProgram, Count: countOrOne(s)}

	if loc := countPhrase.FindStringIndex(s); loc != nil {
		rest := strings.TrimSpace(s[loc[1]:])
		for _, part := range programSeparator.Split(rest, -1) {
			part = strings.TrimSpace(programItemSuffix.ReplaceAllString(strings.TrimSpace(part), ""))
			if part != "" {
				req.Programs = append(req.Programs, part)
			}
		}
	}
	return req, true
}

func matchRarity(s string) (catalog.Requirement, bool) {
	if boundedQuantity.MatchString(s) {
		return catalog.Requirement{}, false
	}

	var rarity string
	switch {
	case rarityGold.MatchString(s):
		rarity = "gold"
	case raritySilver.MatchString(s):
		rarity = "silver"
	case rarityBronze.MatchString(s):
		rarity = "bronze"
	case rarityRare.MatchString(s):
		rarity = "rare"
	default:
		return catalog.Requirement{}, false
	}
	return catalog.Requirement{Kind: catalog.KindMinRarity, Rarity: rarity, Count: countOrOne(s)}, true
}

func matchPosition(s string) (catalog.Requirement, bool) {
	if boundedQuantity.MatchString(s) {
		return catalog.Requirement{}, false
	}

	matches := positionVocab.FindAllString(s, -1)
	if len(matches) == 0 {
		return catalog.Requirement{}, false
	}

	seen := make(map[string]bool, len(matches))
	var positions []string
	for _, p := range matches {
		if !seen[p] {
			seen[p] = true
			positions = append(positions, p)
		}
	}
	return catalog.Requirement{Kind: catalog.KindPositionReq, Positions: positions, Count: countOrOne(s)}, true
}

func matchMinFrom(s string) (catalog.Requirement, bool) {
	for _, re := range minFromLeading {
		if m := re.FindStringSubmatch(s); m != nil {
			if req, ok := minFrom(m[1], m[2]); ok {
				return req, true
			}
		}
	}
	if m := minFromTrailing.FindStringSubmatch(s); m != nil {
		return minFrom(m[2], m[1])
	}
	return catalog.Requirement{}, false
}

func minFrom(count, key string) (catalog.Requirement, bool) {
	n, err := strconv.Atoi(count)
	if err != nil {
		return catalog.Requirement{}, false
	}
	key = strings.Trim(orMoreSuffix.ReplaceAllString(strings.TrimSpace(key), ""), " :")
	if key == "" {
		return catalog.Requirement{}, false
	}
	return catalog.Requirement{Kind: catalog.KindMinFrom, Count: &n, Key: key}, true
}

func matchCountConstraint(s string) (catalog.Requirement, bool) {
	m := countConstraint.FindStringSubmatch(s)
	if m == nil {
		return catalog.Requirement{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return catalog.Requirement{}, false
	}
	key := strings.ToLower(strings.Trim(m[3], " :"))
	if key == "" {
		return catalog.Requirement{}, false
	}

	op := catalog.OpLe
	if strings.EqualFold(m[1], "exactly") {
		op = catalog.OpEq
	}
	return catalog.Requirement{Kind: catalog.KindCountConstraint, Op: op, Count: &n, Key: key}, true
}

// firstInt returns the first capture group of the first matching pattern.
func firstInt(s string, patterns ...*regexp.Regexp) (int, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

func countOrOne(s string) *int {
	n := 1
	if m := minCount.FindStringSubmatch(s); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
	}
	return &n
}
