// Package broker wraps Redis publish/subscribe as the only path between
// relay instances.
//
// A Redis connection in subscribe mode cannot issue regular commands, so the
// broker publishes on the shared request/response client and opens one
// dedicated client per subscribed topic: N topics cost N+1 connections.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/store"
)

// Handler is invoked once per message published on a topic.
type Handler func(payload []byte)

// Broker publishes to and subscribes on Redis channels.
type Broker struct {
	client *redis.Client
	opts   *redis.Options
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New creates a broker. client carries publishes; opts is used to dial one
// extra connection per subscription.
func New(client *redis.Client, opts *redis.Options, logger zerolog.Logger) *Broker {
	return &Broker{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "broker").Logger(),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Publish sends payload to every subscriber of topic on every instance.
// Delivery is at-most-once.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", store.ErrPublish, topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. It returns once Redis has
// confirmed the subscription, so anything published afterwards reaches the
// handler. Nothing published earlier is replayed.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	opts := *b.opts
	opts.PoolSize = 1
	opts.MinIdleConns = 0
	client := redis.NewClient(&opts)

	ps := client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", store.ErrStoreUnavailable, topic, err)
	}

	sub := &Subscription{
		topic:  topic,
		client: client,
		pubsub: ps,
		done:   make(chan struct{}),
		broker: b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump(handler)

	b.logger.Debug().Str("topic", topic).Msg("subscribed")
	return sub, nil
}

// Close closes every open subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscription is a live topic subscription holding its own connection.
type Subscription struct {
	topic  string
	client *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
	broker *Broker

	closeOnce sync.Once
	closeErr  error
}

// Topic returns the subscribed channel name.
func (s *Subscription) Topic() string {
	return s.topic
}

// pump delivers messages in publish order until the subscription closes.
func (s *Subscription) pump(handler Handler) {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		handler([]byte(msg.Payload))
	}
}

// Close unsubscribes, releases the dedicated connection and waits for the
// handler goroutine to exit.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()

		err := s.pubsub.Close()
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
		<-s.done
		s.closeErr = err
	})
	return s.closeErr
}
