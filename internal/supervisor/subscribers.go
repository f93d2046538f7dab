package supervisor

import (
	"errors"
	"slices"
	"sync"
)

// ErrNotWhitelisted is returned when a user outside the whitelist tries to
// subscribe.
var ErrNotWhitelisted = errors.New("user is not whitelisted")

// Subscribers tracks the users that receive notifications. Only whitelisted
// users may subscribe; an empty whitelist admits nobody.
type Subscribers struct {
	mu        sync.Mutex
	whitelist map[int64]struct{}
	members   map[int64]struct{}
}

// NewSubscribers seeds the registry. Persisted members that are no longer
// whitelisted are kept; removing someone from the whitelist only stops new
// subscriptions and edits.
func NewSubscribers(whitelist, members []int64) *Subscribers {
	s := &Subscribers{
		whitelist: make(map[int64]struct{}, len(whitelist)),
		members:   make(map[int64]struct{}, len(members)),
	}
	for _, id := range whitelist {
		s.whitelist[id] = struct{}{}
	}
	for _, id := range members {
		s.members[id] = struct{}{}
	}
	return s
}

// Allowed reports whether id is whitelisted.
func (s *Subscribers) Allowed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.whitelist[id]
	return ok
}

// Add subscribes id. Subscribing twice is not an error.
func (s *Subscribers) Add(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[id]; !ok {
		return ErrNotWhitelisted
	}
	s.members[id] = struct{}{}
	return nil
}

// Remove unsubscribes id and reports whether it was subscribed.
func (s *Subscribers) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	delete(s.members, id)
	return ok
}

// List returns the subscribers in ascending order.
func (s *Subscribers) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
