package notify

import (
	"context"
	"sync"
)

type (
	// Subscription is a browser push subscription of a user.
	Subscription struct {
		UserID   string `json:"userId" db:"user_id"`
		Endpoint string `json:"endpoint" db:"endpoint"`
		P256dh   string `json:"p256dh" db:"p256dh"`
		Auth     string `json:"auth" db:"auth"`
	}

	SubscriptionStore interface {
		// SaveSubscription replaces any subscription with the same endpoint.
		SaveSubscription(ctx context.Context, sub Subscription) error
		// ListSubscriptions returns the subscriptions of userIDs, or every subscription when userIDs is empty.
		ListSubscriptions(ctx context.Context, userIDs []string) ([]Subscription, error)
		DeleteSubscription(ctx context.Context, endpoint string) error
	}
)

// MemorySubscriptions keeps subscriptions in memory.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs map[string]Subscription // {endpoint: sub}
}

var _ SubscriptionStore = (*MemorySubscriptions)(nil)

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: make(map[string]Subscription)}
}

func (s *MemorySubscriptions) SaveSubscription(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	s.subs[sub.Endpoint] = sub
	s.mu.Unlock()
	return nil
}

func (s *MemorySubscriptions) ListSubscriptions(_ context.Context, userIDs []string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if len(userIDs) == 0 || contains(userIDs, sub.UserID) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *MemorySubscriptions) DeleteSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	delete(s.subs, endpoint)
	s.mu.Unlock()
	return nil
}
