package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/billing"
	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/automation"
	"github.com/nichepass/nichepass/internal/service/campaign"
	"github.com/nichepass/nichepass/internal/service/member"
	"github.com/nichepass/nichepass/internal/service/store"
	"github.com/nichepass/nichepass/internal/shopify"
)

// Shopify webhook request headers.
const (
	shopifyHmacHeader   = "X-Shopify-Hmac-Sha256"
	shopifyTopicHeader  = "X-Shopify-Topic"
	shopifyDomainHeader = "X-Shopify-Shop-Domain"

	// BillingSignatureHeader carries hex(HMAC-SHA256(body, secret)) from
	// the payment provider.
	BillingSignatureHeader = "X-Billing-Signature"
)

// maxWebhookBody caps webhook payloads at 1 MB.
const maxWebhookBody = 1 << 20

// storeSource resolves the store a webhook addresses, without user scoping.
// Shopify identifies the shop by its myshopify domain header, so lookups go
// by domain rather than by store id.
type storeSource interface {
	GetByDomain(ctx context.Context, shopDomain string) (*domain.Store, error)
}

// WebhookHandlers receives Shopify and billing webhooks. Handlers are
// stateless and never retry locally; Shopify redelivers on non-2xx.
type WebhookHandlers struct {
	stores      storeSource
	members     *member.Service
	campaigns   *campaign.Service
	automations *automation.Service
	billing     *billing.Service

	billingSecret string
}

// NewWebhookHandlers wires the webhook receivers.
func NewWebhookHandlers(stores storeSource, members *member.Service, campaigns *campaign.Service, automations *automation.Service, billingSvc *billing.Service, billingSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		stores:        stores,
		members:       members,
		campaigns:     campaigns,
		automations:   automations,
		billing:       billingSvc,
		billingSecret: billingSecret,
	}
}

// Routes mounts the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/webhooks/shopify", h.HandleShopify)
	r.Post("/webhooks/billing", h.HandleBilling)
}

// HandleShopify verifies and dispatches one Shopify webhook delivery.
func (h *WebhookHandlers) HandleShopify(w http.ResponseWriter, r *http.Request) {
	topic := r.Header.Get(shopifyTopicHeader)
	signature := r.Header.Get(shopifyHmacHeader)
	shopDomain := strings.ToLower(r.Header.Get(shopifyDomainHeader))
	if topic == "" || signature == "" || shopDomain == "" {
		httputil.BadRequest(w, "missing webhook headers")
		return
	}

	st, err := h.stores.GetByDomain(r.Context(), shopDomain)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "store not found")
		return
	}
	if err != nil {
		fail(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	if !shopify.VerifyWebhook(body, st.WebhookSecret, signature) {
		logger.Warn("webhook signature rejected", "store_id", st.ID, "topic", topic)
		httputil.Error(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	switch topic {
	case "customers/create":
		h.customerCreated(w, r, st, body)
	case "orders/paid":
		h.orderPaid(w, r, st, body)
	case "orders/updated":
		h.orderUpdated(w, r, st, body)
	default:
		// Unknown topics are acknowledged so Shopify stops redelivering.
		logger.Warn("unhandled webhook topic", "topic", topic, "store_id", st.ID)
		httputil.OK(w, map[string]any{"ignored": true})
	}
}

func (h *WebhookHandlers) customerCreated(w http.ResponseWriter, r *http.Request, st *domain.Store, body []byte) {
	c, err := shopify.DecodeCustomer(body)
	if err != nil {
		fail(w, err)
		return
	}

	m, created, err := h.members.EnrollFromWebhook(r.Context(), st.ID, c)
	if err != nil {
		fail(w, err)
		return
	}

	outcome, err := h.automations.HandleTrigger(r.Context(), st.ID, domain.TriggerCustomerCreated, m.ID, 0)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"created": created, "enqueued": outcome.Enqueued})
}

func (h *WebhookHandlers) orderPaid(w http.ResponseWriter, r *http.Request, st *domain.Store, body []byte) {
	order, err := shopify.DecodeOrder(body)
	if err != nil {
		fail(w, err)
		return
	}

	cust := order.Customer
	if cust == nil {
		cust = &shopify.CustomerPayload{Email: order.Email}
	}
	if cust.Email == "" {
		// Guest checkout with no email: nothing to enroll or trigger.
		httputil.OK(w, map[string]any{"enqueued": 0})
		return
	}

	m, _, err := h.members.EnrollFromWebhook(r.Context(), st.ID, cust)
	if err != nil {
		fail(w, err)
		return
	}

	amountCents, err := order.TotalCents()
	if err != nil {
		fail(w, err)
		return
	}

	outcome, err := h.automations.HandleTrigger(r.Context(), st.ID, domain.TriggerOrderPaid, m.ID, amountCents)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"enqueued": outcome.Enqueued})
}

func (h *WebhookHandlers) orderUpdated(w http.ResponseWriter, r *http.Request, st *domain.Store, body []byte) {
	order, err := shopify.DecodeOrder(body)
	if err != nil {
		fail(w, err)
		return
	}

	outcome, err := h.campaigns.HandleOrderUpdate(r.Context(), st.ID, order)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, outcome)
}

// HandleBilling applies one payment-provider event. When a billing secret is
// configured the signature header is required.
func (h *WebhookHandlers) HandleBilling(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	if h.billingSecret != "" {
		sig := r.Header.Get(BillingSignatureHeader)
		if !billing.VerifySignature(body, h.billingSecret, sig) {
			logger.Warn("billing signature rejected")
			httputil.Error(w, http.StatusUnauthorized, "invalid billing signature")
			return
		}
	}

	var evt billing.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	err = h.billing.HandleEvent(r.Context(), &evt)
	switch {
	case errors.Is(err, billing.ErrUnknownEvent),
		errors.Is(err, billing.ErrInvalidPayload),
		errors.Is(err, billing.ErrUnknownPlan):
		httputil.BadRequest(w, err.Error())
	case err != nil:
		fail(w, err)
	default:
		httputil.OK(w, map[string]any{"received": true})
	}
}
