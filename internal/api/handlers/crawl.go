package handlers

import (
	"errors"
	"net/http"

	"github.com/simonhayes51/sbccrawler-sub000/internal/scheduler"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// CrawlAccepted is the body of a successful POST /api/crawl.
type CrawlAccepted struct {
	Accepted bool   `json:"accepted"`
	Trigger  string `json:"trigger"`
	Message  string `json:"message"`
}

// TriggerCrawl starts a crawl pass in the background. It answers 202 when the
// pass was started and 409 while another pass runs.
func TriggerCrawl(runner CrawlRunner, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			RespondServiceUnavailable(w, "Crawler not configured")
			return
		}
		ctx := r.Context()

		err := runner.Trigger(scheduler.TriggerAPI)
		if errors.Is(err, scheduler.ErrPassInProgress) {
			last, _ := runner.Status(ctx)
			RespondConflict(w, "A crawl pass is already running", last)
			return
		}
		if err != nil {
			log.WithContext(ctx).WithError(err).Error("failed to trigger crawl")
			RespondInternalError(w, "Failed to start crawl")
			return
		}

		log.WithContext(ctx).Info("crawl pass triggered via API")
		RespondJSON(w, http.StatusAccepted, CrawlAccepted{
			Accepted: true,
			Trigger:  scheduler.TriggerAPI,
			Message:  "crawl pass started",
		})
	}
}

// CrawlStatus returns the last recorded run status.
func CrawlStatus(runner CrawlRunner, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			RespondServiceUnavailable(w, "Crawler not configured")
			return
		}
		st, err := runner.Status(r.Context())
		if err != nil {
			log.WithContext(r.Context()).WithError(err).Error("failed to load run status")
			RespondInternalError(w, "Failed to load run status")
			return
		}
		RespondJSON(w, http.StatusOK, st)
	}
}
