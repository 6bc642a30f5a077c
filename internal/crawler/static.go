package crawler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/normalizer"
)

// containerSelectors are tried narrow to broad.
var containerSelectors = []string{
	"div.bg-gray-600.rounded-lg.p-1",
	"[data-testid*='challenge']",
	"[class*='challenge']",
	"[class*='Challenge']",
	"[class*='squad']",
	"article",
	"section",
	"div[class*='card']",
}

var (
	widenedSelectors = []string{
		"[class*='requirement']",
		"[class*='Requirement']",
		"[data-testid*='requirement']",
	}

	headingSelectors   = "h1, h2, h3, h4, h5, h6, [class*='title'], [class*='name'], strong, b"
	costSelectors      = "[class*='cost'], [class*='Cost'], [class*='price'], span.text-sm.font-bold"
	rewardSelectors    = "[class*='reward'], [class*='Reward'], span.text-xs.font-bold"
	setCostSelectors   = "[class*='total-cost'], [class*='totalCost'], [data-testid*='total-cost']"
	pageNameSelectors  = []string{"h1", "[data-testid*='title']", "[class*='page-title']"}
	blockChildSelector = "p, div, ul, ol, li, section, article, table"

	squadBuilderSelector = "a[href*='/squad-builder/']"
	detailLineSelector   = "li, .requirement, [class*='requirement']"

	excludedVocab   = regexp.MustCompile(`(?i)\b(?:solutions?|prices?|packs?|discord|twitter|login|log\s+in|sign\s+(?:in|up)|cookies?|privacy|subscribe|advert\w*|copyright|newsletter)\b|©`)
	requiredVocab   = regexp.MustCompile(`(?i)\b(?:min|max|exactly|chem|chemistry|rating|league|club|nation|ovr|same|different|rare|gold|silver|bronze)`)
	digitOrRelation = regexp.MustCompile(`(?i)\d|\b(?:same|different)\b`)
	rulePrefix      = regexp.MustCompile(`(?i)^(?:min\.?|max\.?|exactly|at\s+least|team\s+rating|squad\s+rating|chem|chemistry|players?\s+from|\d+\+?\s+players)`)
	amountPattern   = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*[kKmM]?\b`)
	rewardVocab     = regexp.MustCompile(`(?i)\b(pack|pick|token|coins?|reward|loan|item)s?\b`)
	detailVocab     = regexp.MustCompile(`(?i)min|max|exactly|chemistry|rating|players\s+from`)

	genericTitles = map[string]bool{
		"requirements": true, "requirement": true, "rewards": true, "reward": true,
		"cost": true, "price": true, "challenge": true, "challenges": true, "solution": true,
	}
)

// qualifies reports whether a text fragment looks like a requirement rule.
func qualifies(text string) bool {
	n := utf8.RuneCountInString(text)
	if n < 8 || n > 200 {
		return false
	}
	if excludedVocab.MatchString(text) {
		return false
	}
	return requiredVocab.MatchString(text) && digitOrRelation.MatchString(text)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// pageName derives the set name from a heading, falling back to <title>.
func pageName(doc *goquery.Document, suffixes []string) string {
	for _, sel := range pageNameSelectors {
		if name := cleanText(doc.Find(sel).First().Text()); name != "" {
			return stripSuffixes(name, suffixes)
		}
	}
	return stripSuffixes(cleanText(doc.Find("title").First().Text()), suffixes)
}

func stripSuffixes(name string, suffixes []string) string {
	for _, s := range suffixes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.HasSuffix(name, s) {
			name = strings.TrimSuffix(name, s)
		}
		if strings.HasPrefix(name, s) {
			name = strings.TrimPrefix(name, s)
		}
		name = strings.Trim(name, " |-–")
	}
	return name
}

// pageRewards collects rewards from image alt text.
func pageRewards(doc *goquery.Document) []catalog.Reward {
	var rewards []catalog.Reward
	seen := make(map[string]bool)
	doc.Find("img[alt]").Each(func(_ int, img *goquery.Selection) {
		alt := cleanText(img.AttrOr("alt", ""))
		m := rewardVocab.FindStringSubmatch(alt)
		if m == nil || seen[alt] {
			return
		}
		seen[alt] = true
		rewards = append(rewards, catalog.Reward{Type: strings.ToLower(m[1]), Label: alt})
	})
	return rewards
}

// staticOptions tune the DOM heuristic. Widened mode is used on rendered pages.
type staticOptions struct {
	widened  bool
	fallback string // challenge name when the whole page is one challenge
}

type containerCandidate struct {
	sel   *goquery.Selection
	lines []string
	order int
}

// staticChallenges runs the DOM heuristic over a parsed page.
func staticChallenges(doc *goquery.Document, opts staticOptions) []catalog.Challenge {
	challenges, _ := staticCards(doc, opts)
	return challenges
}

// staticCards is staticChallenges plus the squad-builder link of each
// challenge, aligned by index. Links are empty when a card has none.
func staticCards(doc *goquery.Document, opts staticOptions) ([]catalog.Challenge, []string) {
	order := documentOrder(doc)

	seen := make(map[*html.Node]bool)
	var candidates []*containerCandidate
	for _, selector := range containerSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			if lines := containerLines(s, opts.widened); len(lines) > 0 {
				candidates = append(candidates, &containerCandidate{sel: s, lines: lines, order: order[node]})
			}
		})
	}

	kept := innermostCards(candidates)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].order < kept[j].order })

	challenges := make([]catalog.Challenge, 0, len(kept))
	links := make([]string, 0, len(kept))
	for i, c := range kept {
		challenges = append(challenges, buildChallenge(c.sel, c.lines, i))
		links = append(links, squadBuilderHref(c.sel))
	}

	if len(challenges) == 0 && opts.widened {
		if lines := pageLevelLines(doc); len(lines) > 0 {
			name := opts.fallback
			if name == "" {
				name = "Challenge 1"
			}
			challenges = append(challenges, catalog.Challenge{
				Name:         name,
				Requirements: normalizer.ClassifyAll(lines),
			})
			links = append(links, squadBuilderHref(doc.Selection))
		}
	}
	return challenges, links
}

func squadBuilderHref(s *goquery.Selection) string {
	return strings.TrimSpace(s.Find(squadBuilderSelector).First().AttrOr("href", ""))
}

// innermostCards drops wrappers around several challenges and inner
// fragments of a single card. A container that holds exactly the same rules
// as a nested container is the card; one that holds more is a wrapper.
func innermostCards(candidates []*containerCandidate) []*containerCandidate {
	dropped := make(map[*containerCandidate]bool)
	for _, outer := range candidates {
		for _, inner := range candidates {
			if outer == inner || !contains(outer.sel.Get(0), inner.sel.Get(0)) {
				continue
			}
			if len(outer.lines) == len(inner.lines) {
				dropped[inner] = true
			} else {
				dropped[outer] = true
			}
		}
	}

	kept := make([]*containerCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !dropped[c] {
			kept = append(kept, c)
		}
	}
	return kept
}

func contains(ancestor, node *html.Node) bool {
	for n := node.Parent; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

func documentOrder(doc *goquery.Document) map[*html.Node]int {
	order := make(map[*html.Node]int)
	i := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		order[n] = i
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return order
}

// containerLines returns the qualified requirement lines of a container,
// trying list items, then leaf blocks, then raw text lines.
func containerLines(s *goquery.Selection, widened bool) []string {
	var items []string
	s.Find("li").Each(func(_ int, li *goquery.Selection) {
		items = append(items, cleanText(li.Text()))
	})
	if widened {
		for _, sel := range widenedSelectors {
			s.Find(sel).Each(func(_ int, el *goquery.Selection) {
				items = append(items, cleanText(el.Text()))
			})
		}
	}
	if lines := qualifiedLines(items); len(lines) > 0 {
		return lines
	}

	var blocks []string
	s.Find("p, div").Each(func(_ int, el *goquery.Selection) {
		if el.Find(blockChildSelector).Length() == 0 {
			blocks = append(blocks, cleanText(el.Text()))
		}
	})
	if lines := qualifiedLines(blocks); len(lines) > 0 {
		return lines
	}

	return qualifiedLines(strings.Split(blockText(s), "\n"))
}

// pageLevelLines gathers rule-like fragments anywhere on the page.
func pageLevelLines(doc *goquery.Document) []string {
	var items []string
	for _, sel := range widenedSelectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			items = append(items, cleanText(el.Text()))
		})
	}
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		if text := cleanText(li.Text()); rulePrefix.MatchString(text) {
			items = append(items, text)
		}
	})
	return qualifiedLines(items)
}

func qualifiedLines(items []string) []string {
	var out []string
	for _, item := range items {
		if item = cleanText(item); qualifies(item) {
			out = append(out, item)
		}
	}
	return dedupeStrings(out)
}

func buildChallenge(s *goquery.Selection, lines []string, index int) catalog.Challenge {
	c := catalog.Challenge{
		Name:         containerTitle(s, lines),
		Requirements: normalizer.ClassifyAll(lines),
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("Challenge %d", index+1)
	}
	if cost, ok := selectionAmount(s.Find(costSelectors)); ok {
		c.Cost = &cost
	}
	s.Find(rewardSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := cleanText(el.Text())
		if text == "" || qualifies(text) {
			return true
		}
		if _, isAmount := parseAmount(text); isAmount {
			return true
		}
		c.RewardText = text
		return false
	})
	return c
}

func containerTitle(s *goquery.Selection, lines []string) string {
	isLine := make(map[string]bool, len(lines))
	for _, l := range lines {
		isLine[l] = true
	}

	var title string
	s.Find(headingSelectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := cleanText(el.Text())
		if text == "" || isLine[text] || qualifies(text) || genericTitles[strings.ToLower(text)] {
			return true
		}
		if utf8.RuneCountInString(text) > 120 {
			return true
		}
		title = text
		return false
	})
	return title
}

func selectionAmount(sel *goquery.Selection) (int, bool) {
	var amount int
	var found bool
	sel.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if m := amountPattern.FindString(el.Text()); m != "" {
			if n, ok := parseAmount(strings.ReplaceAll(m, " ", "")); ok {
				amount, found = n, true
				return false
			}
		}
		return true
	})
	return amount, found
}

// setCost reads an explicit total, else sums challenge costs when all are known.
func setCost(doc *goquery.Document, challenges []catalog.Challenge) *int {
	if total, ok := selectionAmount(doc.Find(setCostSelectors)); ok {
		return &total
	}
	return sumCosts(challenges)
}

// blockText renders the text of a selection with a newline at every block
// boundary and <br>.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "br":
				b.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			b.WriteByte('\n')
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "ul", "ol", "section", "article", "header", "footer",
		"h1", "h2", "h3", "h4", "h5", "h6", "tr", "table", "dd", "dt", "main", "aside", "nav":
		return true
	}
	return false
}

// squadBuilderLines collects rule lines from a rendered squad-builder page.
func squadBuilderLines(doc *goquery.Document) []string {
	var out []string
	doc.Find(detailLineSelector).Each(func(_ int, el *goquery.Selection) {
		text := cleanText(el.Text())
		n := utf8.RuneCountInString(text)
		if n <= 8 || n >= 150 || excludedVocab.MatchString(text) {
			return
		}
		if detailVocab.MatchString(text) {
			out = append(out, text)
		}
	})
	return dedupeStrings(out)
}

// addRequirementLines classifies the lines a challenge does not already
// carry and appends them. It returns how many were added.
func addRequirementLines(c *catalog.Challenge, lines []string) int {
	have := make(map[string]bool, len(c.Requirements))
	for _, r := range c.Requirements {
		have[strings.ToLower(cleanText(r.Text))] = true
	}
	var fresh []string
	for _, l := range lines {
		key := strings.ToLower(cleanText(l))
		if key == "" || have[key] {
			continue
		}
		have[key] = true
		fresh = append(fresh, l)
	}
	c.Requirements = append(c.Requirements, normalizer.ClassifyAll(fresh)...)
	return len(fresh)
}
