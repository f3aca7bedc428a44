package eventbus

import (
	"fmt"
	"sync"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
	"github.com/dungeonforge/messagehub/internal/hub/ids"
)

// PushFunc delivers an event over an attached stream (the WebSocket layer
// installs one per connection). Errors mark the stream dead; the bus drops
// the subscription rather than retrying.
type PushFunc func(Event) error

// Subscription binds a service to a set of classification tags and one
// delivery target: either a callback URL or an attached stream.
type Subscription struct {
	ID          string
	Service     string
	Types       map[Type]struct{}
	CallbackURL string
	Push        PushFunc
}

// Matches reports whether the subscription's tag set includes t.
func (s *Subscription) Matches(t Type) bool {
	_, ok := s.Types[t]
	return ok
}

// SubscriptionStore owns every live subscription.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewSubscriptionStore creates an empty store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[string]*Subscription)}
}

func validateTags(types []Type) (map[Type]struct{}, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no event types", hberrors.ErrInvalidSubscription)
	}
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		if !ValidType(t) {
			return nil, fmt.Errorf("%w: unknown event type %q", hberrors.ErrInvalidSubscription, t)
		}
		set[t] = struct{}{}
	}
	return set, nil
}

// Add registers a callback subscription and returns its id.
func (s *SubscriptionStore) Add(service string, types []Type, callbackURL string) (string, error) {
	if service == "" {
		return "", fmt.Errorf("%w: service is empty", hberrors.ErrInvalidSubscription)
	}
	if callbackURL == "" {
		return "", fmt.Errorf("%w: callback url is empty", hberrors.ErrInvalidSubscription)
	}
	set, err := validateTags(types)
	if err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:          ids.New(),
		Service:     service,
		Types:       set,
		CallbackURL: callbackURL,
	}
	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()
	return sub.ID, nil
}

// AddStream registers a streaming subscription with the supplied push
// function.
func (s *SubscriptionStore) AddStream(service string, types []Type, push PushFunc) (string, error) {
	if service == "" {
		return "", fmt.Errorf("%w: service is empty", hberrors.ErrInvalidSubscription)
	}
	if push == nil {
		return "", fmt.Errorf("%w: nil stream", hberrors.ErrInvalidSubscription)
	}
	set, err := validateTags(types)
	if err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:      ids.New(),
		Service: service,
		Types:   set,
		Push:    push,
	}
	s.mu.Lock()
	s.subs[sub.ID] = sub
	s.mu.Unlock()
	return sub.ID, nil
}

// Remove drops a subscription by id.
func (s *SubscriptionStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return fmt.Errorf("%w: %s", hberrors.ErrSubscriptionGone, id)
	}
	delete(s.subs, id)
	return nil
}

// RemoveOwned drops every subscription owned by service, returning how many
// were removed. Called on service deregistration.
func (s *SubscriptionStore) RemoveOwned(service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sub := range s.subs {
		if sub.Service == service {
			delete(s.subs, id)
			removed++
		}
	}
	return removed
}

// Matching snapshots the subscriptions whose tag set includes t.
func (s *SubscriptionStore) Matching(t Type) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Matches(t) {
			out = append(out, sub)
		}
	}
	return out
}

// Len returns the number of live subscriptions.
func (s *SubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
