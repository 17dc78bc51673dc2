package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemberReader reads the presence table.
type MemberReader interface {
	GetAll(ctx context.Context) (map[string]models.Member, error)
	Get(ctx context.Context, connID string) (models.Member, bool, error)
}

// MessageReader reads the recent history window.
type MessageReader interface {
	Recent(ctx context.Context, limit int) ([]models.Message, error)
	Max() int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	redis      Pinger
	members    MemberReader
	messages   MessageReader
	instanceID string
}

// NewHandler creates a new Handler. instanceID identifies this process in
// health output.
func NewHandler(redis Pinger, members MemberReader, messages MessageReader, instanceID string) *Handler {
	return &Handler{
		redis:      redis,
		members:    members,
		messages:   messages,
		instanceID: instanceID,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
