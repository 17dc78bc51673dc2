package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// MembersResponse lists the members currently connected to any instance.
type MembersResponse struct {
	Members map[string]models.Member `json:"members"`
	Count   int                      `json:"count"`
}

// MessagesResponse lists the recent history window.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// Members returns the presence table.
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.members.GetAll(r.Context())
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read members")
		return
	}

	h.JSON(w, http.StatusOK, MembersResponse{
		Members: members,
		Count:   len(members),
	})
}

// Messages returns up to ?limit= recent messages, capped at the history
// bound, oldest first.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := h.messages.Max()
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if l < limit {
			limit = l
		}
	}

	messages, err := h.messages.Recent(r.Context(), limit)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read messages")
		return
	}

	h.JSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}
