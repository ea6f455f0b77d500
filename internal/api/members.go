package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nichepass/nichepass/internal/pkg/httputil"
	"github.com/nichepass/nichepass/internal/service/member"
)

// maxImportSize caps CSV uploads at 10 MB.
const maxImportSize = 10 << 20

// ListMembers returns the store's members with paging and search.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	q := r.URL.Query()
	f := member.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	members, total, err := h.members.List(r.Context(), storeID, f)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, map[string]any{"members": members, "total": total})
}

// GetMember returns one member.
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	m, err := h.members.Get(r.Context(), storeID, chi.URLParam(r, "memberID"))
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, m)
}

// CreateMember enrolls a single member manually.
func (h *Handlers) CreateMember(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	var in member.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	m, err := h.members.Create(r.Context(), storeID, in)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.Created(w, m)
}

// DeleteMember soft-deletes a member. The row survives so code and
// redemption history stay attached.
func (h *Handlers) DeleteMember(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	if err := h.members.Delete(r.Context(), storeID, chi.URLParam(r, "memberID")); err != nil {
		fail(w, err)
		return
	}
	httputil.NoContent(w)
}

// ImportMembers enrolls members from an uploaded CSV. Accepts either a
// multipart form with a "file" field or a raw text/csv body.
func (h *Handlers) ImportMembers(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if err := h.authorizeStore(r, storeID); err != nil {
		fail(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	src := r.Body
	if err := r.ParseMultipartForm(maxImportSize); err == nil {
		file, _, err := r.FormFile("file")
		if err != nil {
			httputil.BadRequest(w, "multipart form is missing the file field")
			return
		}
		defer file.Close()
		src = file
	}

	res, err := h.members.ImportCSV(r.Context(), storeID, src)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.OK(w, res)
}
