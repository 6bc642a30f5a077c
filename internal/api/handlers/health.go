package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status             string             `json:"status"`
	Ready              bool               `json:"ready"`
	Running            bool               `json:"running"`
	LastRun            *storage.RunStatus `json:"last_run,omitempty"`
	LastError          string             `json:"last_error,omitempty"`
	DatabaseConfigured bool               `json:"database_configured"`
	ActiveSets         *int               `json:"active_sets,omitempty"`
	Timestamp          string             `json:"timestamp"`
}

// ReadyStatus represents the readiness check response.
type ReadyStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// Health returns a handler that reports crawl status. It always answers 200
// while the process is up; Ready turns true once catalog data exists.
func Health(reader CatalogReader, runner CrawlRunner, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := HealthStatus{
			Status:             "ok",
			DatabaseConfigured: reader != nil,
			Timestamp:          time.Now().UTC().Format(time.RFC3339),
		}

		if runner != nil {
			status.Running = runner.Running()
			last, err := runner.Status(ctx)
			if err != nil {
				log.WithError(err).Warn("failed to load run status")
				status.Status = "degraded"
			} else {
				status.LastRun = &last
				status.LastError = last.Error
				status.Ready = last.State == storage.StateSucceeded
			}
		}

		if reader != nil {
			n, err := reader.CountActive(ctx)
			if err != nil {
				log.WithError(err).Warn("failed to count active sets")
				status.Status = "degraded"
			} else {
				status.ActiveSets = &n
				status.Ready = status.Ready || n > 0
			}
		}

		RespondJSON(w, http.StatusOK, status)
	}
}

// ReadyCheck returns a handler that checks if all configured dependencies
// are reachable.
func ReadyCheck(components map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := ReadyStatus{
			Status:     "ready",
			Components: make(map[string]string),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}

		allReady := true
		for name, c := range components {
			if c == nil {
				status.Components[name] = "not configured"
				continue
			}
			if err := c.Health(ctx); err != nil {
				status.Components[name] = "unhealthy: " + err.Error()
				allReady = false
				continue
			}
			status.Components[name] = "healthy"
		}

		if !allReady {
			status.Status = "not ready"
			RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}

		RespondJSON(w, http.StatusOK, status)
	}
}
