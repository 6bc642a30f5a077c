package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

type stubRunner struct{ triggered int }

func (s *stubRunner) Trigger(string) error { s.triggered++; return nil }
func (s *stubRunner) Running() bool        { return false }
func (s *stubRunner) Status(context.Context) (storage.RunStatus, error) {
	return storage.RunStatus{State: storage.StateIdle}, nil
}

func TestNewRouter_Routes(t *testing.T) {
	runner := &stubRunner{}
	cfg := DefaultRouterConfig()
	cfg.RateLimitConfig.Trigger.Requests = 1
	router := NewRouter(Dependencies{Logger: logger.Discard(), Runner: runner}, cfg)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/sbcs", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/sbc/live/x", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/crawl/status", http.StatusOK},
		{http.MethodPost, "/api/crawl", http.StatusAccepted},
		{http.MethodPost, "/api/crawl", http.StatusTooManyRequests},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)
	}
	assert.Equal(t, 1, runner.triggered)
}

func TestFormatAddr(t *testing.T) {
	assert.Equal(t, ":8080", formatAddr("", 8080))
	assert.Equal(t, "127.0.0.1:9000", formatAddr("127.0.0.1", 9000))
}
