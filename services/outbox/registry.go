// Package outbox implements the transactional outbox: the append-only
// event log plus one delivery row per subscribed consumer group.
package outbox

import (
	"fmt"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Subscription binds one consumer group to one event type.
type Subscription struct {
	EventType string
	Group     string
}

// SubscriptionRegistry maps event types to the consumer groups that
// receive them. Built once at process start from the handler list; the
// outbox uses it to decide how many delivery rows each append creates.
type SubscriptionRegistry struct {
	byType map[string][]string
	subs   []Subscription
}

// NewSubscriptionRegistry builds the registry. Duplicate
// (event type, group) pairs are a wiring bug and rejected.
func NewSubscriptionRegistry(subs []Subscription) (*SubscriptionRegistry, error) {
	byType := make(map[string][]string)
	seen := make(map[Subscription]bool, len(subs))
	for _, sub := range subs {
		if sub.EventType == "" || sub.Group == "" {
			return nil, errors.Configuration(fmt.Sprintf("subscription with empty field: %+v", sub))
		}
		if seen[sub] {
			return nil, errors.Configuration(fmt.Sprintf("duplicate subscription: %s → %s", sub.EventType, sub.Group))
		}
		seen[sub] = true
		byType[sub.EventType] = append(byType[sub.EventType], sub.Group)
	}
	return &SubscriptionRegistry{byType: byType, subs: subs}, nil
}

// GroupsFor returns the consumer groups subscribed to an event type.
// An event type with no subscribers returns nil: append then writes the
// event row but no delivery rows.
func (r *SubscriptionRegistry) GroupsFor(eventType string) []string {
	return r.byType[eventType]
}

// All returns every subscription in registration order.
func (r *SubscriptionRegistry) All() []Subscription {
	return r.subs
}
