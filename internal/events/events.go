// Package events defines catalog change events and publishes them to NATS JetStream.
package events

import "time"

// Subjects published on the catalog stream.
const (
	SubjectSetUpserted     = "catalog.set.upserted"
	SubjectSetsDeactivated = "catalog.sets.deactivated"
	SubjectPassCompleted   = "catalog.pass.completed"
)

// SetUpserted is published after a ChallengeSet has been written.
type SetUpserted struct {
	PassID       string     `json:"pass_id"`
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Challenges   int        `json:"challenges"`
	Requirements int        `json:"requirements"`
	At           time.Time  `json:"at"`
}

// SetsDeactivated is published after a sweep.
type SetsDeactivated struct {
	PassID string    `json:"pass_id"`
	Cutoff time.Time `json:"cutoff"`
	Count  int64     `json:"count"`
}

// PassCompleted is published at the end of every crawl pass.
type PassCompleted struct {
	PassID      string    `json:"pass_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Discovered  int       `json:"discovered"`
	Accepted    int       `json:"accepted"`
	Persisted   int       `json:"persisted"`
	Incomplete  int       `json:"incomplete"`
	Failed      int       `json:"failed"`
	Deactivated int64     `json:"deactivated"`
}
