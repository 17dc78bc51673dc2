package hub

import (
	"sync"

	"github.com/eldtechnologies/chatrelay/internal/broker"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// Topics is the fixed set of broker channels every instance listens on.
var Topics = []string{
	models.EventMessages,
	models.EventMemberAdd,
	models.EventMemberDelete,
}

// SubscriptionRegistry tracks the live subscription for each topic of a
// fixed set. Topics outside the set are rejected.
type SubscriptionRegistry struct {
	topics []string

	mu   sync.Mutex
	subs map[string]*broker.Subscription
}

// NewSubscriptionRegistry creates a registry for the given topics.
func NewSubscriptionRegistry(topics ...string) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		topics: append([]string(nil), topics...),
		subs:   make(map[string]*broker.Subscription, len(topics)),
	}
}

// Topics returns the topic set in registration order.
func (r *SubscriptionRegistry) Topics() []string {
	return append([]string(nil), r.topics...)
}

// Known reports whether topic belongs to the set.
func (r *SubscriptionRegistry) Known(topic string) bool {
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Add records the subscription for its topic. It returns false if the topic
// is unknown or already subscribed.
func (r *SubscriptionRegistry) Add(sub *broker.Subscription) bool {
	if !r.Known(sub.Topic()) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.Topic()]; ok {
		return false
	}
	r.subs[sub.Topic()] = sub
	return true
}

// Len returns the number of live subscriptions.
func (r *SubscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// CloseAll closes and forgets every subscription.
func (r *SubscriptionRegistry) CloseAll() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*broker.Subscription, len(r.topics))
	r.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
