package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// capturedRequest is a network response worth reading back once the page settles.
type capturedRequest struct {
	id  string
	url string
}

// netWatch tracks in-flight requests of one tab so the renderer can wait for
// the network to go quiet, and remembers JSON API responses from the page's
// own origin.
type netWatch struct {
	host  string
	hints []string
	now   func() time.Time

	mu           sync.Mutex
	inflight     map[string]struct{}
	lastActivity time.Time
	pending      map[string]string // request id -> url, awaiting loading finished
	captured     []capturedRequest
}

func newNetWatch(pageURL string, hints []string) *netWatch {
	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}
	return &netWatch{
		host:         host,
		hints:        hints,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
		pending:      make(map[string]string),
		lastActivity: time.Now(),
	}
}

func (w *netWatch) requestStarted(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[id] = struct{}{}
	w.lastActivity = w.now()
}

func (w *netWatch) responseReceived(id, responseURL, mimeType string) {
	if !w.interesting(responseURL, mimeType) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[id] = responseURL
}

func (w *netWatch) requestFinished(id string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	w.lastActivity = w.now()
	if u, found := w.pending[id]; found {
		delete(w.pending, id)
		if ok {
			w.captured = append(w.captured, capturedRequest{id: id, url: u})
		}
	}
}

// interesting reports whether a response is same-origin JSON whose address
// hints at catalog data.
func (w *netWatch) interesting(responseURL, mimeType string) bool {
	if !strings.Contains(strings.ToLower(mimeType), "json") {
		return false
	}
	u, err := url.Parse(responseURL)
	if err != nil || !sameSite(u.Hostname(), w.host) {
		return false
	}
	if len(w.hints) == 0 {
		return true
	}
	p := strings.ToLower(u.Path + "?" + u.RawQuery)
	for _, h := range w.hints {
		if strings.Contains(p, h) {
			return true
		}
	}
	return false
}

// idle reports whether nothing is in flight and nothing happened for window.
func (w *netWatch) idle(window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight) == 0 && w.now().Sub(w.lastActivity) >= window
}

// waitIdle blocks until the network has been idle for window or ctx ends.
// Callers pass a context that ends before their capture deadline so a page
// that never goes quiet is still captured as it stands.
func (w *netWatch) waitIdle(ctx context.Context, window, poll time.Duration) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if w.idle(window) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *netWatch) responses() []capturedRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]capturedRequest, len(w.captured))
	copy(out, w.captured)
	return out
}
