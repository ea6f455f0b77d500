package api

import (
	"net/http"

	"github.com/nichepass/nichepass/internal/service/automation"
	"github.com/nichepass/nichepass/internal/service/campaign"
	"github.com/nichepass/nichepass/internal/service/member"
	"github.com/nichepass/nichepass/internal/service/store"
	"github.com/nichepass/nichepass/internal/shopify"
)

// Handlers groups the REST API handlers and the services they front.
type Handlers struct {
	stores      *store.Service
	members     *member.Service
	campaigns   *campaign.Service
	automations *automation.Service

	apiVersion string
}

// NewHandlers wires the API handlers to the service layer.
func NewHandlers(stores *store.Service, members *member.Service, campaigns *campaign.Service, automations *automation.Service, apiVersion string) *Handlers {
	return &Handlers{
		stores:      stores,
		members:     members,
		campaigns:   campaigns,
		automations: automations,
		apiVersion:  apiVersion,
	}
}

// adminClient builds a Shopify Admin API client for one of the user's
// stores, decrypting the stored token.
func (h *Handlers) adminClient(r *http.Request, storeID string) (*shopify.Client, error) {
	st, err := h.stores.Get(r.Context(), userID(r), storeID)
	if err != nil {
		return nil, err
	}
	token, err := h.stores.AccessToken(st)
	if err != nil {
		return nil, err
	}
	return shopify.NewClient(st.ShopifyDomain, token, h.apiVersion, nil), nil
}

// authorizeStore checks that the store exists and belongs to the caller.
func (h *Handlers) authorizeStore(r *http.Request, storeID string) error {
	_, err := h.stores.Get(r.Context(), userID(r), storeID)
	return err
}
