package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// ===========================
// Helpers
// ===========================

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*CatalogStore, *testClock) {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, DBConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))

	clock := &testClock{t: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)}
	store := NewCatalogStore(db, logger.Discard())
	store.now = clock.now
	return store, clock
}

func sampleSet(slug string) *catalog.ChallengeSet {
	expires := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return &catalog.ChallengeSet{
		Slug:      slug,
		URL:       "https://www.fut.gg" + slug,
		Name:      "Marquee Matchups",
		ExpiresAt: &expires,
		Cost:      catalog.IntPtr(12500),
		Rewards:   []catalog.Reward{{Type: "pack", Label: "Rare Gold Pack"}},
		Challenges: []catalog.Challenge{
			{
				Name:       "Arsenal vs Chelsea",
				Cost:       catalog.IntPtr(5000),
				RewardText: "Small Gold Pack",
				OrderIndex: 0,
				Requirements: []catalog.Requirement{
					{Kind: catalog.KindTeamRatingMin, Text: "Min. Team Rating: 84", Value: catalog.IntPtr(84)},
					{Kind: catalog.KindMinFrom, Text: "Min. 1 Players from: Arsenal", Key: "Arsenal", Count: catalog.IntPtr(1)},
				},
			},
			{
				Name:       "Milan vs Inter",
				OrderIndex: 1,
				Requirements: []catalog.Requirement{
					{Kind: catalog.KindCountConstraint, Text: "Exactly 11 Gold Players", Key: "gold players", Op: catalog.OpEq, Count: catalog.IntPtr(11)},
					{Kind: catalog.KindRaw, Text: "Some unknown rule"},
				},
			},
		},
	}
}

func countRows(t *testing.T, s *CatalogStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// ===========================
// Upsert
// ===========================

func TestCatalogStore_UpsertAndGet(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	set := sampleSet("/sbc/live/marquee-matchups")
	require.NoError(t, store.Upsert(ctx, set))

	assert.NotZero(t, set.ID)
	assert.True(t, set.IsActive)
	assert.True(t, set.LastSeenAt.Equal(clock.t))

	got, err := store.GetBySlug(ctx, set.Slug)
	require.NoError(t, err)

	assert.Equal(t, set.Name, got.Name)
	assert.Equal(t, set.URL, got.URL)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*set.ExpiresAt))
	assert.Equal(t, 12500, *got.Cost)
	assert.Equal(t, set.Rewards, got.Rewards)
	assert.True(t, got.IsActive)
	assert.True(t, got.LastSeenAt.Equal(clock.t))

	require.Len(t, got.Challenges, 2)
	assert.Equal(t, "Arsenal vs Chelsea", got.Challenges[0].Name)
	assert.Equal(t, 5000, *got.Challenges[0].Cost)
	assert.Equal(t, "Small Gold Pack", got.Challenges[0].RewardText)
	assert.Equal(t, set.Challenges[0].Requirements, got.Challenges[0].Requirements)
	assert.Equal(t, "Milan vs Inter", got.Challenges[1].Name)
	assert.Nil(t, got.Challenges[1].Cost)
	assert.Equal(t, set.Challenges[1].Requirements, got.Challenges[1].Requirements)
}

func TestCatalogStore_UpsertIsIdempotent(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	first := sampleSet("/sbc/live/marquee-matchups")
	require.NoError(t, store.Upsert(ctx, first))

	clock.advance(time.Hour)
	second := sampleSet("/sbc/live/marquee-matchups")
	require.NoError(t, store.Upsert(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, store, "sbc_sets"))
	assert.Equal(t, 2, countRows(t, store, "sbc_challenges"))
	assert.Equal(t, 4, countRows(t, store, "sbc_requirements"))

	got, err := store.GetBySlug(ctx, first.Slug)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(clock.t))
}

func TestCatalogStore_UpsertReplacesChallenges(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/marquee-matchups")))

	updated := sampleSet("/sbc/live/marquee-matchups")
	updated.Challenges = []catalog.Challenge{{
		Name: "Derby Day",
		Requirements: []catalog.Requirement{
			{Kind: catalog.KindChemMin, Text: "Min. Squad Chemistry: 25", Value: catalog.IntPtr(25)},
		},
	}}
	require.NoError(t, store.Upsert(ctx, updated))

	got, err := store.GetBySlug(ctx, updated.Slug)
	require.NoError(t, err)
	require.Len(t, got.Challenges, 1)
	assert.Equal(t, "Derby Day", got.Challenges[0].Name)
	require.Len(t, got.Challenges[0].Requirements, 1)
	assert.Equal(t, catalog.KindChemMin, got.Challenges[0].Requirements[0].Kind)
	assert.Equal(t, 1, countRows(t, store, "sbc_requirements"))
}

func TestCatalogStore_UpsertKeepsChallengesWhenNoneExtracted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/marquee-matchups")))

	rewardsOnly := &catalog.ChallengeSet{
		Slug:    "/sbc/live/marquee-matchups",
		URL:     "https://www.fut.gg/sbc/live/marquee-matchups",
		Name:    "Marquee Matchups Renamed",
		Rewards: []catalog.Reward{{Type: "pack", Label: "Jumbo Rare Players Pack"}},
	}
	require.NoError(t, store.Upsert(ctx, rewardsOnly))

	got, err := store.GetBySlug(ctx, rewardsOnly.Slug)
	require.NoError(t, err)
	assert.Equal(t, "Marquee Matchups Renamed", got.Name)
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, rewardsOnly.Rewards, got.Rewards)
	require.Len(t, got.Challenges, 2)
	assert.Len(t, got.Challenges[1].Requirements, 2)
}

func TestCatalogStore_UpsertRejectsIncompleteSet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.Upsert(ctx, &catalog.ChallengeSet{Name: "No Slug"}))
	assert.Error(t, store.Upsert(ctx, &catalog.ChallengeSet{Slug: "/sbc/live/x"}))
	assert.Equal(t, 0, countRows(t, store, "sbc_sets"))
}

func TestCatalogStore_UpsertRenamedChallengesStayUnique(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	set := sampleSet("/sbc/live/duplicates")
	set.Challenges[1].Name = set.Challenges[0].Name
	assert.Error(t, store.Upsert(ctx, set), "duplicate names violate the per-set unique key")

	got, err := store.GetBySlug(ctx, set.Slug)
	assert.ErrorIs(t, err, ErrNotFound, "failed transaction leaves nothing behind")
	assert.Nil(t, got)
}

// ===========================
// Deactivation
// ===========================

func TestCatalogStore_MarkInactiveBefore(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/old")))

	clock.advance(24 * time.Hour)
	cutoff := clock.t
	clock.advance(time.Minute)
	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/fresh")))

	n, err := store.MarkInactiveBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "/sbc/live/fresh", active[0].Slug)

	old, err := store.GetBySlug(ctx, "/sbc/live/old")
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.Len(t, old.Challenges, 2, "deactivation never deletes")

	n, err = store.MarkInactiveBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already inactive rows are not counted again")
}

func TestCatalogStore_UpsertReactivates(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/returning")))
	clock.advance(time.Hour)

	n, err := store.MarkInactiveBefore(ctx, clock.t)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	clock.advance(time.Hour)
	require.NoError(t, store.Upsert(ctx, sampleSet("/sbc/live/returning")))

	got, err := store.GetBySlug(ctx, "/sbc/live/returning")
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	count, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// ===========================
// Queries
// ===========================

func TestCatalogStore_ListActiveOrdersByExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	late := sampleSet("/sbc/live/a-late")
	lateExpiry := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	late.ExpiresAt = &lateExpiry

	soon := sampleSet("/sbc/live/b-soon")
	soonExpiry := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	soon.ExpiresAt = &soonExpiry

	open := sampleSet("/sbc/live/c-open")
	open.ExpiresAt = nil

	for _, s := range []*catalog.ChallengeSet{open, late, soon} {
		require.NoError(t, store.Upsert(ctx, s))
	}

	sets, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 3)
	assert.Equal(t, "/sbc/live/b-soon", sets[0].Slug)
	assert.Equal(t, "/sbc/live/a-late", sets[1].Slug)
	assert.Equal(t, "/sbc/live/c-open", sets[2].Slug)
	for _, s := range sets {
		assert.Len(t, s.Challenges, 2)
	}
}

func TestCatalogStore_ListActiveEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	sets, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestCatalogStore_GetBySlugNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.GetBySlug(context.Background(), "/sbc/live/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, got)
}

// ===========================
// Dialect helpers
// ===========================

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}

	query := "UPDATE t SET a = ? WHERE b = ? AND c < ?"
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2 AND c < $3", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestDBTime_Scan(t *testing.T) {
	want := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)

	cases := []any{
		want.Format(sqliteTimeLayout),
		[]byte(want.Format(time.RFC3339Nano)),
		want.In(time.FixedZone("BST", 3600)),
	}
	for _, src := range cases {
		var got dbTime
		require.NoError(t, got.Scan(src))
		assert.True(t, got.Valid)
		assert.True(t, got.Time.Equal(want), "%v", src)
	}

	var null dbTime
	require.NoError(t, null.Scan(nil))
	assert.Nil(t, null.ptr())

	var bad dbTime
	assert.Error(t, bad.Scan("yesterday"))
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{Driver: DriverSQLite})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = Open(context.Background(), DBConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}
