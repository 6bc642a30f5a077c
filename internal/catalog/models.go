// Package catalog defines the challenge catalog data model shared by the
// crawler, the persistence gateway and the query API.
package catalog

import "time"

// Kind is the closed vocabulary of requirement categories.
type Kind string

const (
	KindTeamRatingMin   Kind = "team_rating_min"
	KindChemMin         Kind = "chem_min"
	KindMinProgram      Kind = "min_program"
	KindMinRarity       Kind = "min_rarity"
	KindPositionReq     Kind = "position_req"
	KindMinFrom         Kind = "min_from"
	KindCountConstraint Kind = "count_constraint"
	KindRaw             Kind = "raw"
	KindEmpty           Kind = "empty"
)

// Op is the comparison of a count constraint.
type Op string

const (
	OpEq Op = "eq"
	OpLe Op = "le"
)

// Requirement is one classified rule line of a challenge.
// Text always holds the rule as it was read, whatever Kind it resolved to.
type Requirement struct {
	Kind      Kind     `json:"kind"`
	Text      string   `json:"text"`
	Key       string   `json:"key,omitempty"`
	Op        Op       `json:"op,omitempty"`
	Value     *int     `json:"value,omitempty"`
	Count     *int     `json:"count,omitempty"`
	Rarity    string   `json:"rarity,omitempty"`
	Positions []string `json:"positions,omitempty"`
	Programs  []string `json:"programs,omitempty"`
}

// Reward is a set-level reward.
type Reward struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// Challenge is one sub-challenge of a set.
type Challenge struct {
	ID           int64         `json:"id,omitempty"`
	Name         string        `json:"name"`
	Cost         *int          `json:"cost,omitempty"`
	RewardText   string        `json:"reward_text,omitempty"`
	OrderIndex   int           `json:"order_index"`
	Requirements []Requirement `json:"requirements"`
}

// ChallengeSet is one catalog page. Slug is its stable identity.
type ChallengeSet struct {
	ID         int64       `json:"id,omitempty"`
	Slug       string      `json:"slug"`
	URL        string      `json:"url"`
	Name       string      `json:"name"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Cost       *int        `json:"cost,omitempty"`
	Rewards    []Reward    `json:"rewards"`
	Challenges []Challenge `json:"challenges"`
	LastSeenAt time.Time   `json:"last_seen_at"`
	IsActive   bool        `json:"is_active"`
}

// Complete reports whether the set is worth persisting: it has a name and
// at least one challenge or reward.
func (s *ChallengeSet) Complete() bool {
	return s != nil && s.Name != "" && (len(s.Challenges) > 0 || len(s.Rewards) > 0)
}

// RequirementCount totals the requirements across all challenges.
func (s *ChallengeSet) RequirementCount() int {
	n := 0
	for _, c := range s.Challenges {
		n += len(c.Requirements)
	}
	return n
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
