package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionURLs(t *testing.T) {
	got := SectionURLs("https://www.fut.gg/", "sbc", []string{"live", "/upgrades/", " ", ""})
	assert.Equal(t, []string{
		"https://www.fut.gg/sbc/live/",
		"https://www.fut.gg/sbc/upgrades/",
	}, got)
}

func TestRootURL(t *testing.T) {
	assert.Equal(t, "https://www.fut.gg/sbc/", RootURL("https://www.fut.gg/", "sbc"))
	assert.Equal(t, "https://www.fut.gg/sbc/", RootURL("https://www.fut.gg", "/sbc/"))
}

func TestDiscoverLinks(t *testing.T) {
	markup := []byte(`<html><body>
		<nav>
			<a href="/sbc/">All SBCs</a>
			<a href="/sbc/live/">Live</a>
			<a href="/players/">Players</a>
		</nav>
		<main>
			<a href="/sbc/live/marquee-matchups/">Marquee Matchups</a>
			<a href="/sbc/live/marquee-matchups/#rewards">Rewards</a>
			<a href="/sbc/upgrades/gold-upgrade?ref=list">Gold Upgrade</a>
			<a href="https://fut.gg/sbc/icons/icon-moments-pele/">Pele</a>
			<a href="https://www.fut.gg/sbc/icons/icon-moments-pele/">Pele again</a>
			<a href="https://example.com/sbc/live/elsewhere/">Elsewhere</a>
			<a href="relative/sbc/live/x/">Relative</a>
			<a href="">Empty</a>
			<a href="  /sbc/players/potm-saka/  ">Saka</a>
		</main>
	</body></html>`)

	links, err := DiscoverLinks(markup, "https://www.fut.gg", "/sbc/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.fut.gg/sbc/icons/icon-moments-pele/",
		"https://www.fut.gg/sbc/live/marquee-matchups/",
		"https://www.fut.gg/sbc/players/potm-saka/",
		"https://www.fut.gg/sbc/upgrades/gold-upgrade",
	}, links)
}

func TestDiscoverLinks_NothingQualifies(t *testing.T) {
	links, err := DiscoverLinks([]byte(`<a href="/sbc/live/">Live</a>`), "https://www.fut.gg", "/sbc/")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestDiscoverLinks_InvalidBase(t *testing.T) {
	_, err := DiscoverLinks([]byte(`<a href="/sbc/a/b/">x</a>`), "://bad", "/sbc/")
	assert.Error(t, err)
}

func TestSameSite(t *testing.T) {
	assert.True(t, sameSite("www.fut.gg", "fut.gg"))
	assert.True(t, sameSite("FUT.GG", "www.fut.gg"))
	assert.False(t, sameSite("api.fut.gg", "fut.gg"))
}
