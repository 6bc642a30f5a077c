// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"context"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
)

// CatalogReader defines the read-only catalog queries needed by handlers.
type CatalogReader interface {
	// Health checks database connectivity.
	Health(ctx context.Context) error

	ListActive(ctx context.Context) ([]*catalog.ChallengeSet, error)
	GetBySlug(ctx context.Context, slug string) (*catalog.ChallengeSet, error)
	CountActive(ctx context.Context) (int, error)
}

// CrawlRunner starts crawl passes and reports their status.
type CrawlRunner interface {
	Trigger(trigger string) error
	Running() bool
	Status(ctx context.Context) (storage.RunStatus, error)
}

// HealthChecker defines an interface for components that can report health.
type HealthChecker interface {
	Health(ctx context.Context) error
}
