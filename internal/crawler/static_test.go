package crawler

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
)

const staticPage = `<html>
<head><title>Marquee Matchups | FUT.GG</title></head>
<body>
	<h1>Marquee Matchups</h1>
	<p>Expires: 24/10/2026</p>
	<img alt="Rare Gold Pack" src="/img/pack.png">
	<img alt="Rare Gold Pack" src="/img/pack-2.png">
	<img alt="Club logo" src="/img/logo.png">
	<div class="challenge-list">
		<div class="challenge-card">
			<h3>Arsenal vs Chelsea</h3>
			<ul>
				<li>Min. Team Rating: 84</li>
				<li>Min. Squad Chemistry: 30</li>
			</ul>
			<span class="cost">12,500</span>
			<span class="reward">Small Gold Players Pack</span>
		</div>
		<div class="challenge-card">
			<h3>Real vs Barca</h3>
			<ul>
				<li>Exactly 11 Players from: LALIGA EA SPORTS</li>
				<li>Min. Team Rating: 85</li>
				<li>Join our Discord for solutions 24/7</li>
			</ul>
			<span class="cost">20K</span>
		</div>
	</div>
	<footer>Copyright 2026 - Min 1 cookie policy</footer>
</body>
</html>`

func mustDoc(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Min. Team Rating: 84", true},
		{"Same League Count: Max 5", true},
		{"Exactly 11 Players from: Premier League", true},
		{"Min 1", false},                              // too short
		{"Arsenal vs Chelsea", false},                 // no rule vocabulary
		{"Min. Team Rating: high", false},             // no digit
		{"Rare Gold Pack x3 for min 84 rated", false}, // pack vocabulary
		{"Check solutions for rating 84", false},
		{strings.Repeat("Min rating 84 ", 20), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, qualifies(tt.text), tt.text)
	}
}

func TestPageName(t *testing.T) {
	suffixes := []string{" | FUT.GG", " - FUT.GG", "FUT.GG - "}

	assert.Equal(t, "Marquee Matchups", pageName(mustDoc(t, staticPage), suffixes))

	doc := mustDoc(t, `<html><head><title>Marquee Matchups | FUT.GG</title></head><body></body></html>`)
	assert.Equal(t, "Marquee Matchups", pageName(doc, suffixes))

	doc = mustDoc(t, `<html><head><title>FUT.GG - Gold Upgrade</title></head><body></body></html>`)
	assert.Equal(t, "Gold Upgrade", pageName(doc, suffixes))

	assert.Equal(t, "", pageName(mustDoc(t, `<html><body></body></html>`), suffixes))
}

func TestPageRewards(t *testing.T) {
	rewards := pageRewards(mustDoc(t, staticPage))
	assert.Equal(t, []catalog.Reward{{Type: "pack", Label: "Rare Gold Pack"}}, rewards)
}

func TestStaticChallenges(t *testing.T) {
	doc := mustDoc(t, staticPage)
	challenges := staticChallenges(doc, staticOptions{})
	require.Len(t, challenges, 2)

	first := challenges[0]
	assert.Equal(t, "Arsenal vs Chelsea", first.Name)
	require.Len(t, first.Requirements, 2)
	assert.Equal(t, catalog.KindTeamRatingMin, first.Requirements[0].Kind)
	assert.Equal(t, catalog.KindChemMin, first.Requirements[1].Kind)
	require.NotNil(t, first.Cost)
	assert.Equal(t, 12500, *first.Cost)
	assert.Equal(t, "Small Gold Players Pack", first.RewardText)

	second := challenges[1]
	assert.Equal(t, "Real vs Barca", second.Name)
	require.Len(t, second.Requirements, 2, "promotional line must be filtered")
	assert.Equal(t, "Exactly 11 Players from: LALIGA EA SPORTS", second.Requirements[0].Text)
	require.NotNil(t, second.Cost)
	assert.Equal(t, 20000, *second.Cost)
	assert.Empty(t, second.RewardText)

	total := setCost(doc, challenges)
	require.NotNil(t, total)
	assert.Equal(t, 32500, *total)
}

func TestStaticChallenges_SingleCardWrapper(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<section>
			<div class="challenge-card">
				<ul>
					<li>Min. Team Rating: 86</li>
					<li>Min. 1 Players: Team of the Week</li>
				</ul>
			</div>
		</section>
	</body></html>`)

	challenges := staticChallenges(doc, staticOptions{})
	require.Len(t, challenges, 1)
	assert.Len(t, challenges[0].Requirements, 2)
	assert.Equal(t, "Challenge 1", challenges[0].Name)
}

func TestStaticChallenges_LeafBlocks(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<article>
			<h2>Daily Bronze Upgrade</h2>
			<div>
				<p>Min. 11 Bronze Players</p>
				<p>Squad Rating 55 Min</p>
				<p>Short</p>
			</div>
		</article>
	</body></html>`)

	challenges := staticChallenges(doc, staticOptions{})
	require.Len(t, challenges, 1)
	assert.Equal(t, "Daily Bronze Upgrade", challenges[0].Name)
	require.Len(t, challenges[0].Requirements, 2)
	assert.Equal(t, "Min. 11 Bronze Players", challenges[0].Requirements[0].Text)
}

func TestStaticChallenges_WidenedPageFallback(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1>Gold Upgrade</h1>
		<div class="requirement-row">Min. 2 Rare Players</div>
		<div class="requirement-row">Min. Team Rating: 75</div>
	</body></html>`)

	assert.Empty(t, staticChallenges(doc, staticOptions{}))

	challenges := staticChallenges(doc, staticOptions{widened: true, fallback: "Gold Upgrade"})
	require.Len(t, challenges, 1)
	assert.Equal(t, "Gold Upgrade", challenges[0].Name)
	require.Len(t, challenges[0].Requirements, 2)
	assert.Equal(t, catalog.KindTeamRatingMin, challenges[0].Requirements[1].Kind)
}

func TestInnermostCards_KeepsSiblingCards(t *testing.T) {
	doc := mustDoc(t, `<div id="wrap"><div id="a"></div><div id="b"><div id="b1"></div></div></div>`)
	sel := func(id string) *goquery.Selection { return doc.Find("#" + id) }

	wrap := &containerCandidate{sel: sel("wrap"), lines: []string{"1", "2", "3"}}
	a := &containerCandidate{sel: sel("a"), lines: []string{"1"}}
	b := &containerCandidate{sel: sel("b"), lines: []string{"2", "3"}}
	b1 := &containerCandidate{sel: sel("b1"), lines: []string{"2", "3"}}

	kept := innermostCards([]*containerCandidate{wrap, a, b, b1})
	assert.ElementsMatch(t, []*containerCandidate{a, b}, kept)
}

func TestBlockText(t *testing.T) {
	doc := mustDoc(t, `<div><p>One</p>Two<br>Three<script>var x = 1;</script><ul><li>Four</li></ul></div>`)
	assert.Equal(t, "One\nTwo\nThreeFour\n\n\n", blockText(doc.Find("div").First()))
}

func TestStaticChallenges_KeepsDocumentOrder(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<article>
			<h3>First Card</h3>
			<ul><li>Min. Team Rating: 80</li></ul>
		</article>
		<div class="challenge-card">
			<h3>Second Card</h3>
			<ul><li>Min. Squad Chemistry: 25</li></ul>
		</div>
	</body></html>`)

	challenges := staticChallenges(doc, staticOptions{})
	require.Len(t, challenges, 2)
	assert.Equal(t, "First Card", challenges[0].Name)
	assert.Equal(t, "Second Card", challenges[1].Name)
}
