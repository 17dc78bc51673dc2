// Package hub re-emits broker events to the connections attached to this
// instance. Every instance, including the publisher, sees each event through
// this path.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/chatrelay/internal/broker"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// DefaultBuffer is the capacity of the broker-to-dispatch channel.
const DefaultBuffer = 256

// Client is a connection attached to this instance.
type Client interface {
	ID() string
	// Deliver queues env for the client without blocking.
	Deliver(env models.Envelope) error
}

// Subscriber opens broker subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler broker.Handler) (*broker.Subscription, error)
}

type event struct {
	topic   string
	payload []byte
}

// Hub fans broker events out to local clients.
type Hub struct {
	subscriber Subscriber
	registry   *SubscriptionRegistry
	events     chan event
	ready      chan struct{}
	done       chan struct{}
	logger     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]Client
}

// NewHub creates a hub for the fixed topic set. A buffer below 1 uses
// DefaultBuffer.
func NewHub(subscriber Subscriber, logger zerolog.Logger, buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subscriber: subscriber,
		registry:   NewSubscriptionRegistry(Topics...),
		events:     make(chan event, buffer),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
		clients:    make(map[string]Client),
	}
}

// Ready is closed once every topic subscription is confirmed.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run subscribes to every topic and dispatches events until ctx is done.
// It returns an error only if a subscription cannot be opened.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range h.registry.Topics() {
		g.Go(func() error {
			sub, err := h.subscriber.Subscribe(gctx, topic, h.enqueue(topic))
			if err != nil {
				return err
			}
			if !h.registry.Add(sub) {
				_ = sub.Close()
				return fmt.Errorf("duplicate subscription for %s", topic)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		close(h.done)
		_ = h.registry.CloseAll()
		return err
	}

	close(h.ready)
	h.logger.Info().Strs("topics", h.registry.Topics()).Msg("hub subscribed")

	defer func() {
		// Unblock handlers stuck on a full channel before waiting on them.
		close(h.done)
		if err := h.registry.CloseAll(); err != nil {
			h.logger.Warn().Err(err).Msg("closing subscriptions")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

// enqueue hands broker payloads to the dispatch loop.
func (h *Hub) enqueue(topic string) broker.Handler {
	return func(payload []byte) {
		select {
		case h.events <- event{topic: topic, payload: payload}:
		case <-h.done:
		}
	}
}

func (h *Hub) dispatch(ev event) {
	metrics.BrokerEvents.WithLabelValues(ev.topic).Inc()

	data, err := decode(ev.topic, ev.payload)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("broker").Inc()
		h.logger.Warn().Err(err).Str("topic", ev.topic).Msg("dropping malformed event")
		return
	}

	env, err := models.NewEnvelope(ev.topic, data)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", ev.topic).Msg("encoding event")
		return
	}

	h.Broadcast(env)
}

func decode(topic string, payload []byte) (any, error) {
	switch topic {
	case models.EventMessages:
		return models.DecodeMessage("broker:"+topic, payload)
	case models.EventMemberAdd:
		return models.DecodeMember("broker:"+topic, "", payload)
	case models.EventMemberDelete:
		return models.DecodeConnectionID("broker:"+topic, payload)
	}
	return nil, fmt.Errorf("unknown topic %q", topic)
}

// Broadcast delivers env to every attached client.
func (h *Hub) Broadcast(env models.Envelope) {
	h.mu.RLock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Deliver(env); err != nil {
			metrics.HubDropped.Inc()
			h.logger.Debug().Err(err).Str("conn_id", c.ID()).Str("event", env.Event).Msg("event dropped")
		}
	}
}

// Attach starts delivering events to c.
func (h *Hub) Attach(c Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(n))
}

// Detach stops delivering events to the client with the given ID.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(n))
}

// Len returns the number of attached clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
