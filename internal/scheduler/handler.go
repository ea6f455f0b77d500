package scheduler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/pkg/logger"
)

// SignatureHeader carries the provider's JWT.
const SignatureHeader = "Upstash-Signature"

// Jobs are the scheduled maintenance operations the cron provider invokes.
type Jobs interface {
	// ExpireSubscriptions downgrades lapsed subscriptions. Returns how
	// many were expired.
	ExpireSubscriptions(ctx context.Context) (int, error)

	// SyncStores refreshes members from Shopify for every connected
	// store. Returns how many stores were synced.
	SyncStores(ctx context.Context) (int, error)
}

// Handler verifies and routes scheduled job callbacks.
type Handler struct {
	currentKey string
	nextKey    string
	jobs       Jobs
}

// NewHandler creates a scheduler webhook handler.
func NewHandler(currentKey, nextKey string, jobs Jobs) *Handler {
	return &Handler{currentKey: currentKey, nextKey: nextKey, jobs: jobs}
}

// Routes mounts the job endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/jobs/subscriptions/expire", h.expireSubscriptions)
	r.Post("/jobs/stores/sync", h.syncStores)
}

// verify reads the body and checks the signature; it writes the error
// response itself and returns ok=false on failure.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return false
	}

	if err := VerifySignature(r.Header.Get(SignatureHeader), body, h.currentKey, h.nextKey); err != nil {
		logger.Warn("scheduler signature rejected", "path", r.URL.Path, "error", err)
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return false
	}
	return true
}

func (h *Handler) expireSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}
	n, err := h.jobs.ExpireSubscriptions(r.Context())
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	httputil.OK(w, map[string]int{"expired": n})
}

func (h *Handler) syncStores(w http.ResponseWriter, r *http.Request) {
	if !h.verify(w, r) {
		return
	}
	n, err := h.jobs.SyncStores(r.Context())
	if err != nil {
		httputil.Fail(w, err)
		return
	}
	httputil.OK(w, map[string]int{"synced": n})
}
