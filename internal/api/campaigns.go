package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/service/campaign"
)

// ListCampaigns returns the store's campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	q := r.URL.Query()
	f := campaign.ListFilter{Status: q.Get("status")}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	campaigns, total, err := h.campaigns.List(r.Context(), storeID, f)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": campaigns, "total": total})
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	c, err := h.campaigns.Get(r.Context(), storeID, chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, c)
}

// CreateCampaign creates a draft campaign with one code per targeted member.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	res, err := h.campaigns.Create(r.Context(), storeID, in)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.Created(w, res)
}

// CampaignCodes returns the campaign's discount codes.
func (h *Handlers) CampaignCodes(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	codes, err := h.campaigns.Codes(r.Context(), storeID, chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"codes": codes})
}

// SendCampaign dispatches the campaign's codes by email and marks it sent.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	res, err := h.campaigns.Send(r.Context(), storeID, chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, res)
}

// PublishCampaign mirrors the campaign's codes into Shopify as a price rule
// so they are honored at checkout.
func (h *Handlers) PublishCampaign(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	client, err := h.adminClient(r, storeID)
	if err != nil {
		fail(w, err)
		return
	}

	err = h.campaigns.PublishToShopify(r.Context(), storeID, chi.URLParam(r, "campaignID"), client)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"published": true})
}
