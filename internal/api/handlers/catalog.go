package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/simonhayes51/sbccrawler-sub000/internal/catalog"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// SetListResponse is the body of GET /api/sbcs.
type SetListResponse struct {
	Count int                     `json:"count"`
	Sets  []*catalog.ChallengeSet `json:"sets"`
	Ready bool                    `json:"ready"`
}

// ListSets returns every active set with its challenges and requirements.
// An empty catalog is a 200 with ready=false.
func ListSets(reader CatalogReader, cache storage.CatalogCache, log *logger.Logger) http.HandlerFunc {
	if cache == nil {
		cache = storage.NewNullCacheManager()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			RespondServiceUnavailable(w, "Database not configured")
			return
		}
		ctx := r.Context()

		sets, hit, err := cache.GetActive(ctx)
		if err != nil || !hit {
			sets, err = reader.ListActive(ctx)
			if err != nil {
				log.WithContext(ctx).WithError(err).Error("failed to list sets")
				RespondInternalError(w, "Failed to load challenges")
				return
			}
			if err := cache.SetActive(ctx, sets); err != nil {
				log.WithContext(ctx).WithError(err).Warn("failed to cache set listing")
			}
		}

		if sets == nil {
			sets = []*catalog.ChallengeSet{}
		}
		RespondJSON(w, http.StatusOK, SetListResponse{
			Count: len(sets),
			Sets:  sets,
			Ready: len(sets) > 0,
		})
	}
}

// GetSet returns one set by slug, taken from the wildcard path. The slug may
// be given with or without the catalog root prefix.
func GetSet(reader CatalogReader, cache storage.CatalogCache, rootPath string, log *logger.Logger) http.HandlerFunc {
	if cache == nil {
		cache = storage.NewNullCacheManager()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			RespondServiceUnavailable(w, "Database not configured")
			return
		}
		ctx := r.Context()

		slug := SlugFromPath(chi.URLParam(r, "*"), rootPath)
		if slug == "" {
			RespondBadRequest(w, "Missing challenge slug")
			return
		}

		if set, hit, err := cache.GetSet(ctx, slug); err == nil && hit {
			RespondJSON(w, http.StatusOK, set)
			return
		}

		set, err := reader.GetBySlug(ctx, slug)
		if errors.Is(err, storage.ErrNotFound) {
			set, err = reader.GetBySlug(ctx, slug+"/")
		}
		if errors.Is(err, storage.ErrNotFound) {
			RespondNotFound(w, "Challenge not found")
			return
		}
		if err != nil {
			log.WithContext(ctx).WithError(err).Error("failed to get set", "slug", slug)
			RespondInternalError(w, "Failed to load challenge")
			return
		}

		if err := cache.SetSet(ctx, set); err != nil {
			log.WithContext(ctx).WithError(err).Warn("failed to cache set", "slug", slug)
		}
		RespondJSON(w, http.StatusOK, set)
	}
}

// SlugFromPath turns a request path such as "live/marquee-matchups/" into the
// stored slug "/sbc/live/marquee-matchups".
func SlugFromPath(p, rootPath string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	slug := "/" + p

	root := "/" + strings.Trim(rootPath, "/")
	if root == "/" || slug == root || strings.HasPrefix(slug, root+"/") {
		return slug
	}
	return root + slug
}
