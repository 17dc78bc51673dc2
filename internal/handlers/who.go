package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Who returns a single member by connection ID.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > 64 {
		h.Error(w, http.StatusBadRequest, "invalid connection ID")
		return
	}

	member, found, err := h.members.Get(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read member")
		return
	}
	if !found {
		h.Error(w, http.StatusNotFound, "member not found")
		return
	}

	h.JSON(w, http.StatusOK, member)
}
