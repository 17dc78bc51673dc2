// Package presence keeps the shared connection-to-member table.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/identity"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// ErrIdentityMismatch is returned when a stored member is filed under a
// connection ID other than its own.
var ErrIdentityMismatch = errors.New("stored member belongs to another connection")

// Manager reads and writes the members hash. It never publishes.
type Manager struct {
	store  store.StateStore
	logger zerolog.Logger
}

// NewManager creates a presence manager over the given store.
func NewManager(s store.StateStore, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  s,
		logger: logger.With().Str("component", "presence").Logger(),
	}
}

// GetAll returns every live member keyed by connection ID. Entries that fail
// to decode are logged and left out.
func (m *Manager) GetAll(ctx context.Context) (map[string]models.Member, error) {
	raw, err := m.store.HashGetAll(ctx, store.MembersKey)
	if err != nil {
		return nil, err
	}

	members := make(map[string]models.Member, len(raw))
	for connID, data := range raw {
		member, err := m.decode(connID, data)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(store.MembersKey).Inc()
			m.logger.Warn().Err(err).Str("conn_id", connID).Msg("skipping corrupt member")
			continue
		}
		members[connID] = member
	}

	return members, nil
}

// Get returns the member stored for connID, reporting whether there is one.
func (m *Manager) Get(ctx context.Context, connID string) (models.Member, bool, error) {
	data, found, err := m.store.HashGet(ctx, store.MembersKey, connID)
	if err != nil || !found {
		return models.Member{}, false, err
	}
	member, err := m.decode(connID, data)
	if err != nil {
		return models.Member{}, false, err
	}
	return member, true, nil
}

// GetOrCreate returns the member stored for connID, creating one from gen if
// there is none. created reports whether this call wrote the entry.
func (m *Manager) GetOrCreate(ctx context.Context, connID string, gen identity.Generator) (member models.Member, created bool, err error) {
	if connID == "" {
		return models.Member{}, false, errors.New("connection id is required")
	}

	data, found, err := m.store.HashGet(ctx, store.MembersKey, connID)
	if err != nil {
		return models.Member{}, false, err
	}
	if found {
		member, err = m.decode(connID, data)
		return member, false, err
	}

	id := gen.Generate()
	member = models.Member{
		Socket:   connID,
		Username: id.Name,
		Avatar:   id.Avatar,
	}

	encoded, err := json.Marshal(member)
	if err != nil {
		return models.Member{}, false, err
	}

	created, err = m.store.HashSetNX(ctx, store.MembersKey, connID, encoded)
	if err != nil {
		return models.Member{}, false, err
	}
	if created {
		return member, true, nil
	}

	// Another writer got there first; its member wins.
	data, found, err = m.store.HashGet(ctx, store.MembersKey, connID)
	if err != nil {
		return models.Member{}, false, err
	}
	if !found {
		return models.Member{}, false, fmt.Errorf("member %s vanished during create", connID)
	}
	member, err = m.decode(connID, data)
	return member, false, err
}

// Remove deletes the member for connID. Removing an absent member is a no-op.
func (m *Manager) Remove(ctx context.Context, connID string) error {
	return m.store.HashDelete(ctx, store.MembersKey, connID)
}

func (m *Manager) decode(connID string, data []byte) (models.Member, error) {
	member, err := models.DecodeMember(store.MembersKey, connID, data)
	if err != nil {
		return models.Member{}, err
	}
	if member.Socket != connID {
		return models.Member{}, fmt.Errorf("%w: key %s holds %s", ErrIdentityMismatch, connID, member.Socket)
	}
	return member, nil
}
