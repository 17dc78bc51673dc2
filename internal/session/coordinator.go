// Package session drives a client connection from join to leave: it sends
// the joining client its snapshot, announces it, relays its messages and
// retracts it on disconnect.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatrelay/internal/hub"
	"github.com/eldtechnologies/chatrelay/internal/identity"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// DefaultMaxMessageBytes bounds a single message body.
const DefaultMaxMessageBytes = 4096

var (
	// ErrSessionClosed is returned by Send once the session has terminated.
	ErrSessionClosed = errors.New("session closed")
	// ErrMessageTooLong is returned by Send for oversized bodies.
	ErrMessageTooLong = errors.New("message too long")
)

// Presence is the subset of the presence manager a session needs.
type Presence interface {
	GetAll(ctx context.Context) (map[string]models.Member, error)
	GetOrCreate(ctx context.Context, connID string, gen identity.Generator) (models.Member, bool, error)
	Remove(ctx context.Context, connID string) error
}

// History is the subset of the history manager a session needs.
type History interface {
	Append(ctx context.Context, msg models.Message) error
	Recent(ctx context.Context, limit int) ([]models.Message, error)
}

// Publisher sends payloads to every instance.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Fanout attaches connections to the local hub.
type Fanout interface {
	Attach(c hub.Client)
	Detach(id string)
}

// Coordinator creates sessions for new connections.
type Coordinator struct {
	presence  Presence
	history   History
	publisher Publisher
	fanout    Fanout
	generator identity.Generator
	logger    zerolog.Logger

	historyMax      int
	maxMessageBytes int
	clock           func() int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHistoryMax sets how many recent messages a joining client receives.
func WithHistoryMax(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyMax = n
		}
	}
}

// WithMaxMessageBytes bounds message bodies.
func WithMaxMessageBytes(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxMessageBytes = n
		}
	}
}

// WithClock replaces the message timestamp source.
func WithClock(clock func() int64) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(p Presence, h History, pub Publisher, fan Fanout, gen identity.Generator, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		presence:        p,
		history:         h,
		publisher:       pub,
		fanout:          fan,
		generator:       gen,
		logger:          logger.With().Str("component", "session").Logger(),
		historyMax:      10,
		maxMessageBytes: DefaultMaxMessageBytes,
		clock:           NewClock(nil).Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect initializes a session for conn. The presence table, the member
// for this connection and the recent history are read concurrently; if any
// read fails the connection is not admitted and nothing is announced.
// On success conn has received member_history and message_history, is
// attached to the hub, and member_add has been published.
func (c *Coordinator) Connect(ctx context.Context, conn hub.Client) (*Session, error) {
	logger := c.logger.With().Str("conn_id", conn.ID()).Logger()
	s := &Session{
		conn:   conn,
		coord:  c,
		logger: logger,
	}
	s.state.Store(int32(Connecting))

	var (
		members  map[string]models.Member
		member   models.Member
		messages []models.Message
		created  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = c.presence.GetAll(gctx)
		if err != nil {
			return fmt.Errorf("read members: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		member, created, err = c.presence.GetOrCreate(gctx, conn.ID(), c.generator)
		if err != nil {
			return fmt.Errorf("resolve member: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		messages, err = c.history.Recent(gctx, c.historyMax)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, c.abort(ctx, s, created, err)
	}
	s.member = member

	// The members read may land after our own create. The snapshot shows
	// who was here before this connection, so drop an entry we just wrote.
	if created {
		delete(members, conn.ID())
	}

	for _, snap := range []struct {
		event string
		data  any
	}{
		{models.EventMemberHistory, members},
		{models.EventMessageHistory, messages},
	} {
		env, err := models.NewEnvelope(snap.event, snap.data)
		if err == nil {
			err = conn.Deliver(env)
		}
		if err != nil {
			return nil, c.abort(ctx, s, created, fmt.Errorf("send %s: %w", snap.event, err))
		}
	}

	c.fanout.Attach(conn)
	s.state.Store(int32(Active))

	if err := c.publishJSON(ctx, models.EventMemberAdd, member); err != nil {
		logger.Error().Err(err).Msg("announcing member")
	}

	logger.Info().Str("username", member.Username).Msg("session active")
	return s, nil
}

// abort terminates a session that never became active, dropping the member
// entry it may have created.
func (c *Coordinator) abort(ctx context.Context, s *Session, created bool, err error) error {
	s.state.Store(int32(Terminated))
	metrics.SessionInitFailures.Inc()
	s.logger.Error().Err(err).Msg("session initialization failed")

	if created {
		if rerr := c.presence.Remove(ctx, s.conn.ID()); rerr != nil {
			s.logger.Warn().Err(rerr).Msg("removing member of aborted session")
		}
	}
	return fmt.Errorf("initialize session: %w", err)
}

func (c *Coordinator) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, topic, payload)
}
