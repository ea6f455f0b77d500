package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/store"
	"github.com/nichepass/nichepass/internal/shopify"
)

// oauthStateTTL bounds how long a merchant has to complete the Shopify
// consent screen before the state nonce expires.
const oauthStateTTL = 10 * time.Minute

type oauthState struct {
	userID  string
	shop    string
	expires time.Time
}

// OAuthHandlers drives the Shopify authorization-code flow as an alternative
// to pasting an access token into /stores/connect. State nonces live in
// process memory; the flow restarts harmlessly after a deploy.
type OAuthHandlers struct {
	flow      *shopify.OAuth
	stores    *store.Service
	apiSecret string

	mu     sync.Mutex
	states map[string]oauthState
}

// NewOAuthHandlers creates the OAuth flow handlers. apiSecret is the Shopify
// app secret used to verify the callback query signature.
func NewOAuthHandlers(flow *shopify.OAuth, stores *store.Service, apiSecret string) *OAuthHandlers {
	return &OAuthHandlers{
		flow:      flow,
		stores:    stores,
		apiSecret: apiSecret,
		states:    make(map[string]oauthState),
	}
}

// Start issues the Shopify authorization URL for a shop. The caller redirects
// the merchant there; Shopify sends them back to the callback.
func (h *OAuthHandlers) Start(w http.ResponseWriter, r *http.Request) {
	shop := domain.NormalizeShopDomain(r.URL.Query().Get("shop"))
	if !domain.ValidShopDomain(shop) {
		httputil.BadRequest(w, "invalid shop domain")
		return
	}

	state, err := shopify.NewState()
	if err != nil {
		fail(w, err)
		return
	}

	h.mu.Lock()
	h.pruneLocked()
	h.states[state] = oauthState{
		userID:  userID(r),
		shop:    shop,
		expires: time.Now().Add(oauthStateTTL),
	}
	h.mu.Unlock()

	httputil.OK(w, map[string]string{"url": h.flow.AuthorizeURL(shop, state)})
}

// Callback completes the flow: validates the state nonce, verifies the
// query signature with the app secret, exchanges the code for a token and
// runs the regular connect path.
func (h *OAuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	h.mu.Lock()
	st, ok := h.states[q.Get("state")]
	if ok {
		delete(h.states, q.Get("state"))
	}
	h.mu.Unlock()
	if !ok || time.Now().After(st.expires) {
		httputil.BadRequest(w, "unknown or expired oauth state")
		return
	}

	shop := domain.NormalizeShopDomain(q.Get("shop"))
	if shop != st.shop {
		httputil.BadRequest(w, "shop does not match oauth state")
		return
	}
	if !shopify.VerifyOAuthParams(q, h.apiSecret) {
		httputil.Error(w, http.StatusUnauthorized, "invalid oauth signature")
		return
	}

	token, err := h.flow.Exchange(r.Context(), shop, q.Get("code"))
	if err != nil {
		logger.Error("oauth exchange failed", "shop", shop, "error", err)
		fail(w, err)
		return
	}

	connected, err := h.stores.Connect(r.Context(), st.userID, store.ConnectInput{
		ShopDomain:  shop,
		AccessToken: token,
	})
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, connected)
}

// pruneLocked drops expired nonces. Callers hold h.mu.
func (h *OAuthHandlers) pruneLocked() {
	now := time.Now()
	for k, v := range h.states {
		if now.After(v.expires) {
			delete(h.states, k)
		}
	}
}
