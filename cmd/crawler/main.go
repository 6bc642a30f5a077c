// Package main is the entry point for the challenge catalog crawler CLI.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/simonhayes51/sbccrawler-sub000/internal/crawler"
	"github.com/simonhayes51/sbccrawler-sub000/internal/normalizer"
	"github.com/simonhayes51/sbccrawler-sub000/internal/scheduler"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// CrawlOptions holds options for the crawl command.
type CrawlOptions struct {
	DryRun    bool
	NoBrowser bool
	Limit     int
	JSON      bool
	Quiet     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "crawler",
		Short:         "SBC challenge catalog crawler",
		Long:          "Crawls the challenge catalog, classifies requirements and keeps the catalog store current.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd.ExecuteContext(ctx)
}

// newCrawlCmd creates the crawl subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &CrawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass",
		Long:  "Discover challenge pages, extract and classify them, persist complete sets and deactivate stale ones.",
		Example: `  # Full pass
  crawler crawl

  # Look at the first five pages without touching the database
  crawler crawl --dry-run --limit=5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "Extract without persisting")
	cmd.Flags().BoolVar(&opts.NoBrowser, "no-browser", false, "Disable the dynamic rendering tier")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "Visit at most this many pages (disables the sweep)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the pass report as JSON")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress bar")

	return cmd
}

// newExtractCmd creates the extract subcommand.
func newExtractCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract a single challenge page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), cmd.OutOrStdout(), args[0], !noBrowser)
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Disable the dynamic rendering tier")
	return cmd
}

// newClassifyCmd creates the classify subcommand.
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify requirement lines",
		Long:  "Classify each argument, or each line of stdin when no arguments are given.",
		Example: `  crawler classify "Min. Team Rating: 84" "Exactly 11 Players from: Premier League"
  echo "Chemistry Points: Min 25" | crawler classify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd.InOrStdin(), cmd.OutOrStdout(), args)
		},
	}
}

// newSweepCmd creates the sweep subcommand.
func newSweepCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate sets not seen since a cutoff",
		Example: `  crawler sweep --before=2026-10-01T00:00:00Z
  crawler sweep --before=72h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := parseCutoff(before, time.Now())
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cmd.OutOrStdout(), cutoff)
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "Cutoff as RFC3339 time or a duration ago (e.g. 48h)")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openStore(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			a.log.Info("schema is up to date")
			return nil
		},
	}
}

func runCrawl(ctx context.Context, out io.Writer, opts *CrawlOptions) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if !opts.DryRun {
		if err := a.openStore(ctx); err != nil {
			return fmt.Errorf("failed to open catalog store (use --dry-run to crawl without one): %w", err)
		}
		a.connectOptional(ctx)
	}

	a.log.Info("starting crawl",
		"base_url", a.cfg.Crawler.BaseURL,
		"sections", a.cfg.Crawler.Sections,
		"dry_run", opts.DryRun,
		"limit", opts.Limit,
	)

	var crawlOpts []crawler.Option
	if !opts.Quiet {
		bar := newProgressBar()
		defer func() { _ = bar.Finish() }()
		crawlOpts = append(crawlOpts, crawler.WithProgress(func(done, total int, _ string) {
			bar.ChangeMax(total)
			_ = bar.Set(done)
		}))
	}

	useBrowser := a.cfg.Crawler.UseBrowser && !opts.NoBrowser
	orch := a.orchestrator(!opts.DryRun, useBrowser, opts.Limit, crawlOpts...)

	var report *crawler.PassReport
	if opts.DryRun {
		report, err = orch.RunPass(ctx)
	} else {
		runner := scheduler.NewRunner(orch, a.statusStore(), a.catalogCache(ctx), scheduler.RunnerConfig{LockTTL: a.cfg.Redis.LockTTL}, a.log)
		report, err = runner.RunOnce(ctx, scheduler.TriggerCLI)
	}
	if report != nil {
		if perr := printReport(out, report, opts.JSON); perr != nil {
			return perr
		}
	}
	return err
}

func runExtract(ctx context.Context, out io.Writer, pageURL string, useBrowser bool) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	f := a.fetcher()
	ext := a.extractor(f)

	var renderer crawler.Renderer
	if useBrowser && a.cfg.Crawler.UseBrowser {
		browser, err := crawler.NewChromeBrowser(ctx, a.renderConfig(), a.log)
		if err != nil {
			a.log.WithError(err).Warn("browser unavailable, dynamic rendering disabled")
		} else {
			defer browser.Close()
			renderer = browser
		}
	}

	result := ext.Extract(ctx, pageURL, renderer)
	return writeJSON(out, struct {
		Tier     string `json:"tier"`
		Complete bool   `json:"complete"`
		Set      any    `json:"set"`
	}{
		Tier:     result.Tier,
		Complete: result.Set.Complete(),
		Set:      result.Set,
	})
}

func runClassify(in io.Reader, out io.Writer, args []string) error {
	lines := args
	if len(lines) == 0 {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
	return writeJSON(out, normalizer.ClassifyAll(lines))
}

func runSweep(ctx context.Context, out io.Writer, cutoff time.Time) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openStore(ctx); err != nil {
		return fmt.Errorf("failed to open catalog store: %w", err)
	}
	a.connectOptional(ctx)

	n, err := a.store.MarkInactiveBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		if err := a.catalogCache(ctx).InvalidateAll(ctx); err != nil {
			a.log.WithError(err).Warn("failed to invalidate catalog cache")
		}
	}

	a.log.Info("sweep completed", "cutoff", cutoff, "deactivated", n)
	return writeJSON(out, map[string]any{"cutoff": cutoff, "deactivated": n})
}

// parseCutoff accepts an RFC3339 time or a duration counted back from now.
func parseCutoff(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("--before is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: want RFC3339 time or duration", s)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --before %q: duration must be positive", s)
	}
	return now.Add(-d).UTC(), nil
}

func newProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Crawling challenge pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// printReport prints pass statistics, or the whole report with asJSON.
func printReport(out io.Writer, r *crawler.PassReport, asJSON bool) error {
	if asJSON {
		return writeJSON(out, r)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Crawl Pass ===")
	fmt.Fprintf(out, "Pass ID:          %s\n", r.PassID)
	fmt.Fprintf(out, "Duration:         %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(out, "Sections:         %d (%d failed)\n", r.Sections, r.SectionsFailed)
	fmt.Fprintf(out, "Discovered:       %d\n", r.Discovered)
	fmt.Fprintf(out, "Extracted:        %d\n", r.Extracted)
	fmt.Fprintf(out, "Accepted:         %d\n", r.Accepted)
	fmt.Fprintf(out, "Persisted:        %d\n", r.Persisted)
	fmt.Fprintf(out, "Incomplete:       %d\n", r.Incomplete)
	fmt.Fprintf(out, "Failed:           %d\n", r.Failed+r.PersistFailed)
	fmt.Fprintf(out, "Deactivated:      %d\n", r.Deactivated)
	for _, t := range []string{crawler.TierStructured, crawler.TierStatic, crawler.TierRenderedJSON, crawler.TierRenderedDOM} {
		if n := r.ByTier[t]; n > 0 {
			fmt.Fprintf(out, "  via %-13s %d\n", t+":", n)
		}
	}
	fmt.Fprintln(out, "==================")
	return nil
}
