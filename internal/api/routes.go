package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/scheduler"
)

// SetupRoutes assembles the full router: health check, authenticated REST
// API, OAuth flow, webhook receivers and scheduler job endpoints. oauth,
// webhooks and jobs may be nil in processes that don't serve them.
func SetupRoutes(h *Handlers, oauth *OAuthHandlers, webhooks *WebhookHandlers, jobs *scheduler.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*.nichepass.app", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	// Shopify redirects merchants here; the request is authenticated by the
	// query signature and the state nonce, not by user principal.
	if oauth != nil {
		r.Get("/oauth/callback", oauth.Callback)
	}

	// Webhooks authenticate by signature, not by user principal.
	if webhooks != nil {
		webhooks.Routes(r)
	}
	if jobs != nil {
		jobs.Routes(r)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser)

		r.Route("/stores", func(r chi.Router) {
			r.Post("/connect", h.ConnectStore)
			r.Get("/", h.ListStores)
			if oauth != nil {
				r.Get("/oauth/start", oauth.Start)
			}

			r.Route("/{storeID}", func(r chi.Router) {
				r.Get("/", h.GetStore)
				r.Delete("/", h.DisconnectStore)
				r.Post("/sync", h.SyncStore)

				r.Route("/members", func(r chi.Router) {
					r.Get("/", h.ListMembers)
					r.Post("/", h.CreateMember)
					r.Post("/import", h.ImportMembers)
					r.Get("/{memberID}", h.GetMember)
					r.Delete("/{memberID}", h.DeleteMember)
				})

				r.Route("/campaigns", func(r chi.Router) {
					r.Get("/", h.ListCampaigns)
					r.Post("/", h.CreateCampaign)
					r.Get("/{campaignID}", h.GetCampaign)
					r.Get("/{campaignID}/codes", h.CampaignCodes)
					r.Post("/{campaignID}/send", h.SendCampaign)
					r.Post("/{campaignID}/publish", h.PublishCampaign)
				})

				r.Route("/automations", func(r chi.Router) {
					r.Get("/", h.ListAutomations)
					r.Post("/", h.CreateAutomation)
					r.Get("/{automationID}", h.GetAutomation)
					r.Patch("/{automationID}", h.UpdateAutomation)
					r.Delete("/{automationID}", h.DeleteAutomation)
				})
			})
		})
	})

	return r
}
