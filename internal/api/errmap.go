package api

import (
	"errors"
	"net/http"

	"github.com/nichepass/nichepass/internal/apperr"
	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/service/automation"
	"github.com/nichepass/nichepass/internal/service/campaign"
	"github.com/nichepass/nichepass/internal/service/member"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/service/store"
)

// fail maps service sentinel errors onto the error taxonomy and writes the
// JSON envelope. Anything unmapped falls through as an internal error.
func fail(w http.ResponseWriter, err error) {
	httputil.Fail(w, classify(err))
}

func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, member.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, campaign.ErrMembersNotFound),
		errors.Is(err, automation.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err.Error(), err)

	case errors.Is(err, store.ErrInvalidToken):
		return apperr.Wrap(apperr.KindAuth, err.Error(), err)

	case errors.Is(err, store.ErrMissingScopes),
		errors.Is(err, store.ErrNotOwner):
		return apperr.Wrap(apperr.KindForbidden, err.Error(), err)

	case errors.Is(err, plan.ErrLimitExceeded),
		errors.Is(err, plan.ErrBusy):
		return apperr.Wrap(apperr.KindLimitExceeded, err.Error(), err)

	case errors.Is(err, store.ErrInvalidDomain),
		errors.Is(err, store.ErrDomainMismatch),
		errors.Is(err, store.ErrDisconnected),
		errors.Is(err, member.ErrDuplicate),
		errors.Is(err, member.ErrInvalidEmail),
		errors.Is(err, member.ErrEmptyImport),
		errors.Is(err, campaign.ErrNoMembers),
		errors.Is(err, campaign.ErrInvalidDiscount),
		errors.Is(err, campaign.ErrAlreadySent),
		errors.Is(err, automation.ErrInvalidTrigger),
		errors.Is(err, automation.ErrMissingCard):
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return err
}
