package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// Tier names recorded on an Extraction.
const (
	TierStructured   = "structured"
	TierStatic       = "static"
	TierRenderedJSON = "rendered-json"
	TierRenderedDOM  = "rendered-dom"
)

// ExtractorConfig holds configuration for the page extractor.
type ExtractorConfig struct {
	TitleSuffixes []string
	// RenderReserve is kept back from the address deadline when rendering,
	// capped at a quarter of what remains, so the static result can still be used.
	RenderReserve time.Duration
	SquadBuilder  bool // render each challenge's squad-builder page for extra rules
}

// DefaultExtractorConfig returns default extractor configuration.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		TitleSuffixes: []string{" | FUT.GG", " - FUT.GG", "FUT.GG - "},
		RenderReserve: 10 * time.Second,
		SquadBuilder:  true,
	}
}

// errNoRenderBudget is returned when the address deadline leaves no time to render.
var errNoRenderBudget = errors.New("no time left to render")

// Extraction is the outcome of extracting one address.
type Extraction struct {
	Set    *catalog.ChallengeSet
	Tier   string // tier whose challenges were adopted, empty if none
	Markup []byte // static markup, nil when the fetch failed
}

// page is the shared state the tiers read from.
type page struct {
	url      string
	doc      *goquery.Document
	renderer Renderer
	name     string
}

// tierResult is what one tier contributes.
type tierResult struct {
	tier       string
	name       string
	rewards    []catalog.Reward
	expiresAt  *time.Time
	cost       *int
	challenges []catalog.Challenge
	// detailLinks holds each challenge's squad-builder href, aligned with challenges.
	detailLinks []string
}

func (r *tierResult) complete() bool {
	for _, c := range r.challenges {
		if len(c.Requirements) > 0 {
			return true
		}
	}
	return false
}

// tier is one extraction strategy. Tiers run in order until one is complete.
type tier struct {
	name string
	run  func(ctx context.Context, p *page) (*tierResult, error)
}

// Extractor turns a challenge page into a ChallengeSet using progressively
// more expensive strategies: embedded data, static DOM, rendered page.
type Extractor struct {
	config  ExtractorConfig
	fetcher Fetcher
	log     *logger.Logger
	tiers   []tier
	now     func() time.Time
}

// NewExtractor creates a new page extractor.
func NewExtractor(cfg ExtractorConfig, fetcher Fetcher, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Default()
	}
	e := &Extractor{
		config:  cfg,
		fetcher: fetcher,
		log:     log.WithComponent("extractor"),
		now:     time.Now,
	}
	e.tiers = []tier{
		{name: TierStructured, run: e.structuredTier},
		{name: TierStatic, run: e.staticTier},
		{name: TierRenderedJSON, run: e.renderedTier},
	}
	return e
}

// Extract runs the tiers against pageURL. It never fails: whatever could be
// assembled is returned and the caller decides whether it is complete.
// renderer may be nil, in which case the dynamic tier is skipped.
func (e *Extractor) Extract(ctx context.Context, pageURL string, renderer Renderer) *Extraction {
	log := e.log.WithContext(ctx)

	set := &catalog.ChallengeSet{
		Slug:       SlugFor(pageURL),
		URL:        pageURL,
		LastSeenAt: e.now().UTC(),
		IsActive:   true,
	}
	p := &page{url: pageURL, renderer: renderer}
	out := &Extraction{Set: set}

	if markup, err := e.fetcher.Fetch(ctx, pageURL); err != nil {
		log.WithError(err).Warn("static fetch failed", "url", pageURL)
	} else if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup)); err != nil {
		log.WithError(err).Warn("failed to parse page", "url", pageURL)
	} else {
		p.doc = doc
		out.Markup = markup
		set.Name = pageName(doc, e.config.TitleSuffixes)
		set.Rewards = pageRewards(doc)
		set.ExpiresAt = ExtractExpiry(blockText(doc.Selection))
		p.name = set.Name
	}

	var best *tierResult
	for _, t := range e.tiers {
		if ctx.Err() != nil {
			break
		}
		res, err := t.run(ctx, p)
		if err != nil {
			log.WithError(err).Debug("tier yielded nothing", "url", pageURL, "tier", t.name)
			continue
		}
		if res == nil {
			continue
		}
		if res.tier == "" {
			res.tier = t.name
		}
		if res.complete() {
			best = res
			break
		}
		if best == nil || len(res.challenges) > len(best.challenges) ||
			(best.name == "" && res.name != "") {
			best = res
		}
	}

	if best != nil && renderer != nil && e.config.SquadBuilder && ctx.Err() == nil {
		e.enrichFromSquadBuilder(ctx, p, best)
	}
	if best != nil {
		merge(set, best)
		if len(best.challenges) > 0 {
			out.Tier = best.tier
		}
	}
	set.Challenges = finalizeChallenges(set.Challenges)

	log.Debug("extracted page",
		"url", pageURL,
		"tier", out.Tier,
		"challenges", len(set.Challenges),
		"requirements", set.RequirementCount(),
		"rewards", len(set.Rewards),
	)
	return out
}

func merge(set *catalog.ChallengeSet, res *tierResult) {
	set.Challenges = res.challenges
	if set.Name == "" {
		set.Name = res.name
	}
	if len(set.Rewards) == 0 {
		set.Rewards = res.rewards
	}
	if set.ExpiresAt == nil {
		set.ExpiresAt = res.expiresAt
	}
	if set.Cost == nil {
		set.Cost = res.cost
	}
}

// finalizeChallenges makes names unique within the set and assigns order.
func finalizeChallenges(in []catalog.Challenge) []catalog.Challenge {
	used := make(map[string]bool, len(in))
	out := make([]catalog.Challenge, len(in))
	for i, c := range in {
		base := c.Name
		if base == "" {
			base = fmt.Sprintf("Challenge %d", i+1)
		}
		name := base
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s (%d)", base, n)
		}
		used[strings.ToLower(name)] = true
		c.Name = name
		c.OrderIndex = i
		out[i] = c
	}
	return out
}

func (e *Extractor) structuredTier(_ context.Context, p *page) (*tierResult, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("no static markup")
	}
	challenges, err := structuredChallenges(p.doc)
	if err != nil {
		return nil, err
	}
	return &tierResult{challenges: challenges, cost: sumCosts(challenges)}, nil
}

func (e *Extractor) staticTier(_ context.Context, p *page) (*tierResult, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("no static markup")
	}
	challenges, links := staticCards(p.doc, staticOptions{})
	return &tierResult{challenges: challenges, detailLinks: links, cost: setCost(p.doc, challenges)}, nil
}

// renderedTier renders the page, first looking for challenge data in the
// intercepted JSON responses and then in the rendered DOM.
func (e *Extractor) renderedTier(ctx context.Context, p *page) (*tierResult, error) {
	if p.renderer == nil {
		return nil, ErrNoRenderer
	}

	rctx, cancel, err := e.renderContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rendered, err := p.renderer.Render(rctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("render failed: %w", err)
	}

	var doc *goquery.Document
	if rendered.HTML != "" {
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
		if err != nil {
			e.log.WithError(err).Debug("failed to parse rendered DOM", "url", p.url)
			doc = nil
		}
	}

	res := &tierResult{tier: TierRenderedJSON}
	if doc != nil {
		res.name = pageName(doc, e.config.TitleSuffixes)
		res.rewards = pageRewards(doc)
		res.expiresAt = ExtractExpiry(blockText(doc.Selection))
	}

	for _, r := range rendered.Responses {
		var v any
		dec := json.NewDecoder(bytes.NewReader(r.Body))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			continue
		}
		if challenges := challengesFromJSON(normalizeNumbers(v)); len(challenges) > 0 {
			res.challenges = challenges
			res.cost = sumCosts(challenges)
			return res, nil
		}
	}

	if doc == nil {
		return res, nil
	}

	fallback := p.name
	if fallback == "" {
		fallback = res.name
	}
	res.tier = TierRenderedDOM
	res.challenges, res.detailLinks = staticCards(doc, staticOptions{widened: true, fallback: fallback})
	res.cost = setCost(doc, res.challenges)
	return res, nil
}

// renderContext bounds one render so that part of the address deadline is
// left for the tiers that already ran.
func (e *Extractor) renderContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		rctx, cancel := context.WithCancel(ctx)
		return rctx, cancel, nil
	}
	remaining := time.Until(deadline)
	reserve := e.config.RenderReserve
	if limit := remaining / 4; reserve > limit {
		reserve = limit
	}
	budget := remaining - reserve
	if budget <= 0 {
		return nil, nil, errNoRenderBudget
	}
	rctx, cancel := context.WithTimeout(ctx, budget)
	return rctx, cancel, nil
}

// enrichFromSquadBuilder renders the squad-builder page of each challenge that
// links one and appends the rule lines the listing did not show.
func (e *Extractor) enrichFromSquadBuilder(ctx context.Context, p *page, res *tierResult) {
	base, err := url.Parse(p.url)
	if err != nil {
		return
	}
	log := e.log.WithContext(ctx)

	for i, href := range res.detailLinks {
		if href == "" || i >= len(res.challenges) {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		target := base.ResolveReference(ref).String()

		rctx, cancel, err := e.renderContext(ctx)
		if err != nil {
			log.Debug("skipping squad builder pages", "url", p.url, "reason", err.Error())
			return
		}
		rendered, err := p.renderer.Render(rctx, target)
		cancel()
		if err != nil {
			log.WithError(err).Debug("squad builder render failed", "url", target)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
		if err != nil {
			continue
		}
		if n := addRequirementLines(&res.challenges[i], squadBuilderLines(doc)); n > 0 {
			log.Debug("added squad builder rules", "url", target, "challenge", res.challenges[i].Name, "added", n)
		}
	}
}

// sumCosts totals challenge costs when every challenge has one.
func sumCosts(challenges []catalog.Challenge) *int {
	if len(challenges) == 0 {
		return nil
	}
	sum := 0
	for _, c := range challenges {
		if c.Cost == nil {
			return nil
		}
		sum += *c.Cost
	}
	return &sum
}

// SlugFor returns the stable identity of a page: its path.
func SlugFor(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Path == "" {
		return pageURL
	}
	return u.Path
}
