package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/events"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// Gateway persists accepted sets. Implementations live in the storage package.
type Gateway interface {
	Upsert(ctx context.Context, set *catalog.ChallengeSet) error
	MarkInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier publishes catalog events.
type Notifier interface {
	Publish(ctx context.Context, subject string, event any) error
}

// SnapshotArchive stores raw page markup.
type SnapshotArchive interface {
	PutSnapshot(ctx context.Context, key string, data []byte) error
}

// OrchestratorConfig holds configuration for a crawl pass.
type OrchestratorConfig struct {
	BaseURL        string
	RootPath       string
	Sections       []string
	AddressTimeout time.Duration
	Limit          int  // visit at most this many addresses, 0 for all
	Sweep          bool // deactivate sets not seen during a full pass
}

// DefaultOrchestratorConfig returns default pass configuration.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		BaseURL:        "https://www.fut.gg",
		RootPath:       "/sbc/",
		Sections:       []string{"live", "players", "icons", "upgrades", "foundations"},
		AddressTimeout: 2 * time.Minute,
		Sweep:          true,
	}
}

// PassReport summarises one crawl pass.
type PassReport struct {
	PassID         string                  `json:"pass_id"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`
	Sections       int                     `json:"sections"`
	SectionsFailed int                     `json:"sections_failed"`
	Discovered     int                     `json:"discovered"`
	Extracted      int                     `json:"extracted"`
	Accepted       int                     `json:"accepted"`
	Persisted      int                     `json:"persisted"`
	Incomplete     int                     `json:"incomplete"`
	Failed         int                     `json:"failed"`
	PersistFailed  int                     `json:"persist_failed"`
	Deactivated    int64                   `json:"deactivated"`
	ByTier         map[string]int          `json:"by_tier"`
	Sets           []*catalog.ChallengeSet `json:"sets,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBrowserFactory enables the dynamic-rendering tier.
func WithBrowserFactory(f BrowserFactory) Option {
	return func(o *Orchestrator) { o.browsers = f }
}

// WithNotifier publishes catalog events.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithSnapshotArchive archives the markup of accepted pages.
func WithSnapshotArchive(a SnapshotArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithProgress is called after every address.
func WithProgress(fn func(done, total int, pageURL string)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// Orchestrator runs crawl passes: discover, extract, filter, persist.
// Addresses are processed one at a time in discovery order.
type Orchestrator struct {
	config    OrchestratorConfig
	fetcher   Fetcher
	extractor *Extractor
	gateway   Gateway
	browsers  BrowserFactory
	notifier  Notifier
	archive   SnapshotArchive
	progress  func(done, total int, pageURL string)
	log       *logger.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new orchestrator. gateway may be nil for dry runs.
func NewOrchestrator(cfg OrchestratorConfig, fetcher Fetcher, extractor *Extractor, gateway Gateway, log *logger.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	o := &Orchestrator{
		config:    cfg,
		fetcher:   fetcher,
		extractor: extractor,
		gateway:   gateway,
		log:       log.WithComponent("orchestrator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunPass performs one full crawl pass. Per-section and per-address failures
// are logged and counted, never returned; the error is non-nil only when ctx
// ends before the pass completes.
func (o *Orchestrator) RunPass(ctx context.Context) (*PassReport, error) {
	report := &PassReport{
		PassID:    uuid.NewString(),
		StartedAt: o.now().UTC(),
		ByTier:    make(map[string]int),
	}
	ctx = logger.WithPassID(ctx, report.PassID)
	log := o.log.WithContext(ctx)

	log.Info("starting crawl pass", "sections", len(o.config.Sections))

	links := o.discover(ctx, report)
	if o.config.Limit > 0 && len(links) > o.config.Limit {
		links = links[:o.config.Limit]
	}

	var renderer Renderer
	if o.browsers != nil && len(links) > 0 {
		browser, err := o.browsers(ctx)
		if err != nil {
			log.WithError(err).Warn("browser unavailable, dynamic rendering disabled for this pass")
		} else {
			defer func() {
				if err := browser.Close(); err != nil {
					log.WithError(err).Warn("failed to close browser")
				}
			}()
			renderer = browser
		}
	}

	for i, link := range links {
		if ctx.Err() != nil {
			break
		}
		o.processAddress(ctx, link, renderer, report)
		if o.progress != nil {
			o.progress(i+1, len(links), link)
		}
	}

	if err := ctx.Err(); err != nil {
		report.FinishedAt = o.now().UTC()
		log.WithError(err).Warn("crawl pass interrupted", "persisted", report.Persisted)
		return report, fmt.Errorf("crawl pass interrupted: %w", err)
	}

	o.sweep(ctx, report)
	report.FinishedAt = o.now().UTC()

	o.publish(ctx, events.SubjectPassCompleted, events.PassCompleted{
		PassID:      report.PassID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Discovered:  report.Discovered,
		Accepted:    report.Accepted,
		Persisted:   report.Persisted,
		Incomplete:  report.Incomplete,
		Failed:      report.Failed,
		Deactivated: report.Deactivated,
	})

	log.Info("crawl pass completed",
		"discovered", report.Discovered,
		"accepted", report.Accepted,
		"persisted", report.Persisted,
		"incomplete", report.Incomplete,
		"failed", report.Failed,
		"deactivated", report.Deactivated,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// Discover returns the union of challenge addresses across the root listing
// and all sections.
func (o *Orchestrator) Discover(ctx context.Context) []string {
	return o.discover(ctx, &PassReport{ByTier: make(map[string]int)})
}

func (o *Orchestrator) discover(ctx context.Context, report *PassReport) []string {
	log := o.log.WithContext(ctx)
	sections := append([]string{RootURL(o.config.BaseURL, o.config.RootPath)},
		SectionURLs(o.config.BaseURL, o.config.RootPath, o.config.Sections)...)
	report.Sections = len(sections)

	found := make(map[string]struct{})
	for _, section := range sections {
		if ctx.Err() != nil {
			break
		}
		markup, err := o.fetcher.Fetch(ctx, section)
		if err != nil {
			report.SectionsFailed++
			log.WithError(err).Warn("failed to fetch section", "url", section)
			continue
		}
		links, err := DiscoverLinks(markup, o.config.BaseURL, o.config.RootPath)
		if err != nil {
			report.SectionsFailed++
			log.WithError(err).Warn("failed to discover links", "url", section)
			continue
		}
		log.Debug("discovered section links", "url", section, "links", len(links))
		for _, l := range links {
			found[l] = struct{}{}
		}
	}

	links := make([]string, 0, len(found))
	for l := range found {
		links = append(links, l)
	}
	sort.Strings(links)
	report.Discovered = len(links)
	log.Info("discovered challenge pages", "count", len(links), "sections_failed", report.SectionsFailed)
	return links
}

func (o *Orchestrator) processAddress(ctx context.Context, link string, renderer Renderer, report *PassReport) {
	log := o.log.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			report.Failed++
			log.LogPanic(r)
			log.Error("address failed", "url", link)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, o.config.AddressTimeout)
	defer cancel()

	ext := o.extractor.Extract(actx, link, renderer)
	set := ext.Set
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		if !set.Complete() {
			report.Failed++
			log.Warn("address timed out", "url", link, "timeout", o.config.AddressTimeout)
			return
		}
		log.Warn("address timed out, keeping what was extracted", "url", link, "timeout", o.config.AddressTimeout)
	}
	report.Extracted++
	if ext.Tier != "" {
		report.ByTier[ext.Tier]++
	}

	if !set.Complete() {
		report.Incomplete++
		log.Info("skipping incomplete set",
			"url", link,
			"has_name", set.Name != "",
			"challenges", len(set.Challenges),
			"rewards", len(set.Rewards),
		)
		return
	}
	report.Accepted++
	report.Sets = append(report.Sets, set)

	o.archiveSnapshot(ctx, report.StartedAt, set, ext.Markup)

	if o.gateway == nil {
		return
	}
	if err := o.gateway.Upsert(ctx, set); err != nil {
		report.PersistFailed++
		log.WithError(err).Error("failed to persist set", "slug", set.Slug)
		return
	}
	report.Persisted++
	log.Info("persisted set",
		"slug", set.Slug,
		"name", set.Name,
		"tier", ext.Tier,
		"challenges", len(set.Challenges),
		"requirements", set.RequirementCount(),
	)

	o.publish(ctx, events.SubjectSetUpserted, events.SetUpserted{
		PassID:       report.PassID,
		Slug:         set.Slug,
		Name:         set.Name,
		ExpiresAt:    set.ExpiresAt,
		Challenges:   len(set.Challenges),
		Requirements: set.RequirementCount(),
		At:           set.LastSeenAt,
	})
}

// sweep deactivates sets not seen in this pass. It only runs after a pass
// that visited every section and persisted something, so an outage of the
// site never empties the catalog.
func (o *Orchestrator) sweep(ctx context.Context, report *PassReport) {
	if !o.config.Sweep || o.gateway == nil || o.config.Limit > 0 {
		return
	}
	log := o.log.WithContext(ctx)
	if report.Persisted == 0 || report.SectionsFailed > 0 {
		log.Info("skipping sweep", "persisted", report.Persisted, "sections_failed", report.SectionsFailed)
		return
	}

	n, err := o.gateway.MarkInactiveBefore(ctx, report.StartedAt)
	if err != nil {
		log.WithError(err).Error("failed to deactivate stale sets")
		return
	}
	report.Deactivated = n
	if n > 0 {
		log.Info("deactivated stale sets", "count", n, "cutoff", report.StartedAt)
		o.publish(ctx, events.SubjectSetsDeactivated, events.SetsDeactivated{
			PassID: report.PassID,
			Cutoff: report.StartedAt,
			Count:  n,
		})
	}
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, seen time.Time, set *catalog.ChallengeSet, markup []byte) {
	if o.archive == nil || len(markup) == 0 {
		return
	}
	key := SnapshotKey(seen, set.Slug)
	if err := o.archive.PutSnapshot(ctx, key, markup); err != nil {
		o.log.WithContext(ctx).WithError(err).Warn("failed to archive snapshot", "key", key)
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, event any) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(ctx, subject, event); err != nil {
		o.log.WithContext(ctx).WithError(err).Warn("failed to publish event", "subject", subject)
	}
}

// SnapshotKey is the archive key for a page seen at t.
func SnapshotKey(t time.Time, slug string) string {
	name := strings.Trim(slug, "/")
	if name == "" {
		name = "index"
	}
	return fmt.Sprintf("snapshots/%s/%s.html", t.UTC().Format("2006-01-02"), name)
}
