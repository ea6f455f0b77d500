package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/service/store"
)

// ConnectStore verifies a merchant's token against Shopify and links the
// shop to the caller's account.
func (h *Handlers) ConnectStore(w http.ResponseWriter, r *http.Request) {
	var in store.ConnectInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	st, err := h.stores.Connect(r.Context(), userID(r), in)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.Created(w, st)
}

// ListStores returns the caller's stores.
func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.stores.List(r.Context(), userID(r))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"stores": stores})
}

// GetStore returns one of the caller's stores.
func (h *Handlers) GetStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.stores.Get(r.Context(), userID(r), chi.URLParam(r, "storeID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, st)
}

// DisconnectStore marks a store disconnected. Credentials stay in place so
// a reconnect can rotate them.
func (h *Handlers) DisconnectStore(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Disconnect(r.Context(), userID(r), chi.URLParam(r, "storeID")); err != nil {
		fail(w, err)
		return
	}
	httputil.NoContent(w)
}

// SyncStore pulls the store's Shopify customers into the member list.
func (h *Handlers) SyncStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	client, err := h.adminClient(r, storeID)
	if err != nil {
		fail(w, err)
		return
	}

	res, err := h.members.Sync(r.Context(), storeID, client)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, res)
}
