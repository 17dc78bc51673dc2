// Package history keeps the shared, time-ordered message log.
package history

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// DefaultMax is the number of recent messages a joining client receives.
const DefaultMax = 10

// Manager appends to and reads from the messages sorted set.
type Manager struct {
	store  store.StateStore
	max    int
	trim   bool
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMax sets the retention bound. Values below 1 are ignored.
func WithMax(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithTrimOnWrite bounds the stored log on every append, not only on read.
func WithTrimOnWrite(trim bool) Option {
	return func(m *Manager) {
		m.trim = trim
	}
}

// NewManager creates a history manager. Trim-on-write is on by default.
func NewManager(s store.StateStore, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		max:    DefaultMax,
		trim:   true,
		logger: logger.With().Str("component", "history").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Max returns the retention bound.
func (m *Manager) Max() int {
	return m.max
}

// Append adds msg to the log, scored by its timestamp.
func (m *Manager) Append(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if m.trim {
		return m.store.SortedSetAddTrim(ctx, store.MessagesKey, float64(msg.Date), data, int64(m.max))
	}
	return m.store.SortedSetAdd(ctx, store.MessagesKey, float64(msg.Date), data)
}

// Recent returns up to limit of the newest messages, oldest first.
func (m *Manager) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}

	results, err := m.store.SortedSetRange(ctx, store.MessagesKey, -int64(limit), -1)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		msg, err := models.DecodeMessage(store.MessagesKey, data)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(store.MessagesKey).Inc()
			m.logger.Warn().Err(err).Msg("skipping corrupt message")
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
