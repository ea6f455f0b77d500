package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/service/automation"
)

// ListAutomations returns the store's automation rules.
func (h *Handlers) ListAutomations(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	rules, err := h.automations.List(r.Context(), storeID)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"automations": rules})
}

// GetAutomation returns one automation rule.
func (h *Handlers) GetAutomation(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	a, err := h.automations.Get(r.Context(), storeID, chi.URLParam(r, "automationID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, a)
}

// CreateAutomation creates an automation rule, active by default.
func (h *Handlers) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	var in automation.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	a, err := h.automations.Create(r.Context(), storeID, in)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.Created(w, a)
}

// updateAutomationRequest carries the PATCH semantics: absent fields are
// untouched, trigger_value may be set to null explicitly.
type updateAutomationRequest struct {
	CardID            *string `json:"card_id"`
	TriggerValue      *int64  `json:"trigger_value"`
	Active            *bool   `json:"active"`
	ClearTriggerValue bool    `json:"clear_trigger_value"`
}

// UpdateAutomation applies a partial update to an automation rule.
func (h *Handlers) UpdateAutomation(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	var req updateAutomationRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	err := h.automations.Update(r.Context(), storeID, chi.URLParam(r, "automationID"), automation.UpdateFields{
		CardID:            req.CardID,
		TriggerValue:      req.TriggerValue,
		Active:            req.Active,
		ClearTriggerValue: req.ClearTriggerValue,
	})
	if err != nil {
		fail(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteAutomation removes an automation rule. Pending send tasks for the
// rule are drained as no-ops by the worker.
func (h *Handlers) DeleteAutomation(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	if err := h.automations.Delete(r.Context(), storeID, chi.URLParam(r, "automationID")); err != nil {
		fail(w, err)
		return
	}
	httputil.NoContent(w)
}
