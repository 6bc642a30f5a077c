package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// CatalogStore is the persistence gateway for challenge sets.
type CatalogStore struct {
	db  *DB
	log *logger.Logger
	now func() time.Time
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(db *DB, log *logger.Logger) *CatalogStore {
	if log == nil {
		log = logger.Default()
	}
	return &CatalogStore{
		db:  db,
		log: log.WithComponent("catalog_store"),
		now: time.Now,
	}
}

// Health checks database connectivity.
func (s *CatalogStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Upsert writes a set keyed by slug in a single transaction. The set row is
// always refreshed and reactivated. Its challenges are replaced only when the
// incoming set carries at least one; an empty list leaves stored challenges
// untouched. set.ID and set.LastSeenAt are updated on success.
func (s *CatalogStore) Upsert(ctx context.Context, set *catalog.ChallengeSet) error {
	if set == nil || set.Slug == "" {
		return errors.New("set has no slug")
	}
	if set.Name == "" {
		return fmt.Errorf("set %s has no name", set.Slug)
	}

	start := time.Now()
	seen := s.now().UTC()

	rewards := set.Rewards
	if rewards == nil {
		rewards = []catalog.Reward{}
	}
	rewardsJSON, err := json.Marshal(rewards)
	if err != nil {
		return fmt.Errorf("failed to marshal rewards: %w", err)
	}

	var setID int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := s.db.rebind(`
			INSERT INTO sbc_sets (slug, url, name, expires_at, site_cost, rewards, last_seen_at, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (slug) DO UPDATE SET
				url = excluded.url,
				name = excluded.name,
				expires_at = excluded.expires_at,
				site_cost = excluded.site_cost,
				rewards = excluded.rewards,
				last_seen_at = excluded.last_seen_at,
				is_active = excluded.is_active
			RETURNING id
		`)
		err := tx.QueryRowContext(ctx, query,
			set.Slug,
			set.URL,
			set.Name,
			s.db.nullTimeArg(set.ExpiresAt),
			intArg(set.Cost),
			string(rewardsJSON),
			s.db.timeArg(seen),
			true,
		).Scan(&setID)
		if err != nil {
			return fmt.Errorf("failed to upsert set: %w", err)
		}

		if len(set.Challenges) == 0 {
			return nil
		}
		return s.replaceChallenges(ctx, tx, setID, set.Challenges)
	})
	if err != nil {
		s.log.WithError(err).Error("failed to upsert set", "slug", set.Slug)
		return err
	}

	set.ID = setID
	set.LastSeenAt = seen
	set.IsActive = true

	s.log.Debug("upsert completed",
		"slug", set.Slug,
		"challenges", len(set.Challenges),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *CatalogStore) replaceChallenges(ctx context.Context, tx *sql.Tx, setID int64, challenges []catalog.Challenge) error {
	if _, err := tx.ExecContext(ctx, s.db.rebind(`
		DELETE FROM sbc_requirements
		WHERE challenge_id IN (SELECT id FROM sbc_challenges WHERE sbc_set_id = ?)
	`), setID); err != nil {
		return fmt.Errorf("failed to delete requirements: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(`DELETE FROM sbc_challenges WHERE sbc_set_id = ?`), setID); err != nil {
		return fmt.Errorf("failed to delete challenges: %w", err)
	}

	insertChallenge := s.db.rebind(`
		INSERT INTO sbc_challenges (sbc_set_id, name, site_cost, reward_text, order_index)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	insertRequirement := s.db.rebind(`
		INSERT INTO sbc_requirements
			(challenge_id, order_index, kind, req_key, req_op, req_value, req_count, rarity, text, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for i := range challenges {
		c := &challenges[i]
		var challengeID int64
		err := tx.QueryRowContext(ctx, insertChallenge,
			setID, c.Name, intArg(c.Cost), stringArg(c.RewardText), c.OrderIndex,
		).Scan(&challengeID)
		if err != nil {
			return fmt.Errorf("failed to insert challenge %q: %w", c.Name, err)
		}
		c.ID = challengeID

		for j, req := range c.Requirements {
			data, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("failed to marshal requirement: %w", err)
			}
			_, err = tx.ExecContext(ctx, insertRequirement,
				challengeID,
				j,
				string(req.Kind),
				stringArg(req.Key),
				stringArg(string(req.Op)),
				intArg(req.Value),
				intArg(req.Count),
				stringArg(req.Rarity),
				req.Text,
				string(data),
			)
			if err != nil {
				return fmt.Errorf("failed to insert requirement: %w", err)
			}
		}
	}
	return nil
}

// MarkInactiveBefore deactivates every active set last seen before cutoff and
// returns how many rows changed. Sets are never deleted.
func (s *CatalogStore) MarkInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.db.rebind(`UPDATE sbc_sets SET is_active = ? WHERE is_active = ? AND last_seen_at < ?`)
	res, err := s.db.ExecContext(ctx, query, false, true, s.db.timeArg(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate sets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated sets: %w", err)
	}
	if n > 0 {
		s.log.Info("deactivated sets", "count", n, "cutoff", cutoff.UTC())
	}
	return n, nil
}

// ListActive returns every active set with its challenges, ordered by expiry
// (soonest first, open-ended last) then slug.
func (s *CatalogStore) ListActive(ctx context.Context) ([]*catalog.ChallengeSet, error) {
	return s.loadSets(ctx, "s.is_active = ?", true)
}

// GetBySlug returns a set by slug regardless of its active flag.
func (s *CatalogStore) GetBySlug(ctx context.Context, slug string) (*catalog.ChallengeSet, error) {
	sets, err := s.loadSets(ctx, "s.slug = ?", slug)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, ErrNotFound
	}
	return sets[0], nil
}

// CountActive returns the number of active sets.
func (s *CatalogStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT COUNT(*) FROM sbc_sets WHERE is_active = ?`), true).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sets: %w", err)
	}
	return n, nil
}

func (s *CatalogStore) loadSets(ctx context.Context, where string, arg any) ([]*catalog.ChallengeSet, error) {
	query := s.db.rebind(`
		SELECT s.id, s.slug, s.url, s.name, s.expires_at, s.site_cost, s.rewards, s.last_seen_at, s.is_active
		FROM sbc_sets s
		WHERE ` + where + `
		ORDER BY CASE WHEN s.expires_at IS NULL THEN 1 ELSE 0 END, s.expires_at, s.slug
	`)
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query sets: %w", err)
	}
	defer rows.Close()

	var sets []*catalog.ChallengeSet
	byID := make(map[int64]*catalog.ChallengeSet)
	for rows.Next() {
		var (
			set     catalog.ChallengeSet
			expires dbTime
			seen    dbTime
			cost    sql.NullInt64
			rewards string
		)
		if err := rows.Scan(&set.ID, &set.Slug, &set.URL, &set.Name, &expires, &cost, &rewards, &seen, &set.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan set: %w", err)
		}
		set.ExpiresAt = expires.ptr()
		set.LastSeenAt = seen.Time
		set.Cost = intPtr(cost)
		if err := json.Unmarshal([]byte(rewards), &set.Rewards); err != nil {
			s.log.WithError(err).Warn("invalid stored rewards", "slug", set.Slug)
		}
		if set.Rewards == nil {
			set.Rewards = []catalog.Reward{}
		}
		set.Challenges = []catalog.Challenge{}
		sets = append(sets, &set)
		byID[set.ID] = &set
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sets: %w", err)
	}
	// Release the connection before the next query; SQLite runs on one.
	rows.Close()
	if len(sets) == 0 {
		return sets, nil
	}

	if err := s.loadChallenges(ctx, where, arg, byID); err != nil {
		return nil, err
	}
	return sets, nil
}

func (s *CatalogStore) loadChallenges(ctx context.Context, where string, arg any, sets map[int64]*catalog.ChallengeSet) error {
	query := s.db.rebind(`
		SELECT c.id, c.sbc_set_id, c.name, c.site_cost, c.reward_text, c.order_index
		FROM sbc_challenges c
		JOIN sbc_sets s ON s.id = c.sbc_set_id
		WHERE ` + where + `
		ORDER BY c.sbc_set_id, c.order_index, c.id
	`)
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to query challenges: %w", err)
	}

	type ref struct {
		setID int64
		index int
	}
	refs := make(map[int64]ref)
	for rows.Next() {
		var (
			c      catalog.Challenge
			setID  int64
			cost   sql.NullInt64
			reward sql.NullString
		)
		if err := rows.Scan(&c.ID, &setID, &c.Name, &cost, &reward, &c.OrderIndex); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan challenge: %w", err)
		}
		c.Cost = intPtr(cost)
		c.RewardText = reward.String
		c.Requirements = []catalog.Requirement{}
		set, ok := sets[setID]
		if !ok {
			continue
		}
		set.Challenges = append(set.Challenges, c)
		refs[c.ID] = ref{setID: setID, index: len(set.Challenges) - 1}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating challenges: %w", err)
	}
	rows.Close()
	if len(refs) == 0 {
		return nil
	}

	reqQuery := s.db.rebind(`
		SELECT r.challenge_id, r.kind, r.text, r.data
		FROM sbc_requirements r
		JOIN sbc_challenges c ON c.id = r.challenge_id
		JOIN sbc_sets s ON s.id = c.sbc_set_id
		WHERE ` + where + `
		ORDER BY r.challenge_id, r.order_index, r.id
	`)
	reqRows, err := s.db.QueryContext(ctx, reqQuery, arg)
	if err != nil {
		return fmt.Errorf("failed to query requirements: %w", err)
	}
	defer reqRows.Close()

	for reqRows.Next() {
		var (
			challengeID int64
			kind, text  string
			data        string
		)
		if err := reqRows.Scan(&challengeID, &kind, &text, &data); err != nil {
			return fmt.Errorf("failed to scan requirement: %w", err)
		}
		var req catalog.Requirement
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			req = catalog.Requirement{Kind: catalog.Kind(kind), Text: text}
		}
		r, ok := refs[challengeID]
		if !ok {
			continue
		}
		c := &sets[r.setID].Challenges[r.index]
		c.Requirements = append(c.Requirements, req)
	}
	if err := reqRows.Err(); err != nil {
		return fmt.Errorf("error iterating requirements: %w", err)
	}
	return nil
}

// intArg maps an optional integer to a nullable parameter.
func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func stringArg(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
