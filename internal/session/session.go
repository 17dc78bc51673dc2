package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/hub"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// State is a session lifecycle state.
type State int32

const (
	Connecting State = iota
	Active
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is one admitted client connection.
type Session struct {
	conn   hub.Client
	member models.Member
	coord  *Coordinator
	logger zerolog.Logger
	state  atomic.Int32

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// ID returns the connection ID.
func (s *Session) ID() string {
	return s.conn.ID()
}

// Member returns the identity bound to this connection.
func (s *Session) Member() models.Member {
	return s.member
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Send stamps body with the member's identity and the current time, appends
// it to history and publishes it. Failures are logged and returned; the
// session stays active. Sends from one session are applied in call order.
func (s *Session) Send(ctx context.Context, body string) error {
	if s.State() != Active {
		return ErrSessionClosed
	}
	if len(body) > s.coord.maxMessageBytes {
		s.logger.Warn().Int("bytes", len(body)).Msg("message rejected: too long")
		return ErrMessageTooLong
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	msg := models.Message{
		Date:     s.coord.clock(),
		Username: s.member.Username,
		Avatar:   s.member.Avatar,
		Body:     body,
	}

	if err := s.coord.history.Append(ctx, msg); err != nil {
		s.logger.Error().Err(err).Int64("date", msg.Date).Msg("appending message")
		return fmt.Errorf("append message: %w", err)
	}

	if err := s.coord.publishJSON(ctx, models.EventMessages, msg); err != nil {
		s.logger.Error().Err(err).Int64("date", msg.Date).Msg("publishing message")
		return fmt.Errorf("publish message: %w", err)
	}

	metrics.MessagesSent.Inc()
	return nil
}

// Close terminates the session: it stops local delivery, removes the member
// and publishes member_delete. Failures are only logged. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Terminated))
		s.coord.fanout.Detach(s.ID())

		if err := s.coord.presence.Remove(ctx, s.ID()); err != nil {
			s.logger.Error().Err(err).Msg("removing member")
		}
		if err := s.coord.publishJSON(ctx, models.EventMemberDelete, s.ID()); err != nil {
			s.logger.Error().Err(err).Msg("announcing departure")
		}

		s.logger.Info().Msg("session terminated")
	})
}
