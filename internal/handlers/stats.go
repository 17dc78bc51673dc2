package handlers

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

const (
	statsPreviewCount = 5
	previewMaxBody    = 200
)

// MessagePreview is a shortened recent message.
type MessagePreview struct {
	Username string `json:"username"`
	Body     string `json:"message"`
	Date     int64  `json:"date"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	Instance       string           `json:"instance"`
	Members        int              `json:"members"`
	HistoryWindow  int              `json:"history_window"`
	LastActivity   string           `json:"last_activity"`
	RecentMessages []MessagePreview `json:"recent_messages"`
}

// Stats summarizes the room for the landing page.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	members, err := h.members.GetAll(ctx)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read members")
		return
	}

	messages, err := h.messages.Recent(ctx, statsPreviewCount)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "failed to read messages")
		return
	}

	lastActivity := "no activity yet"
	if n := len(messages); n > 0 {
		lastActivity = formatTimeAgo(time.UnixMilli(messages[n-1].Date))
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		Instance:       h.instanceID,
		Members:        len(members),
		HistoryWindow:  h.messages.Max(),
		LastActivity:   lastActivity,
		RecentMessages: previews(messages),
	})
}

func previews(messages []models.Message) []MessagePreview {
	out := make([]MessagePreview, 0, len(messages))
	for _, msg := range messages {
		out = append(out, MessagePreview{
			Username: msg.Username,
			Body:     truncate(msg.Body, previewMaxBody),
			Date:     msg.Date,
		})
	}
	return out
}

// truncate shortens s to at most n bytes, ending in "..." and never
// splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return strconv.Itoa(n) + " " + unit + "s ago"
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	default:
		return plural(int(diff.Hours()/24), "day")
	}
}
