package store

import (
	"sync"

	"chat-sync/internal/models"

	"chat-sync/internal/observability"
)

// Notifier fans snapshot updates out to subscribers. Rooms are keyed by
// conversation id for message feeds and by user id for membership
// feeds; an empty room is dropped.
type Notifier struct {
	messageRooms    map[string]map[int]*subscription[[]models.Message]
	membershipRooms map[string]map[int]*subscription[[]models.MembershipEntry]
	nextID          int
	mu              sync.RWMutex
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		messageRooms:    make(map[string]map[int]*subscription[[]models.Message]),
		membershipRooms: make(map[string]map[int]*subscription[[]models.MembershipEntry]),
	}
}

type subscription[T any] struct {
	fn     func(T)
	remove func()
	closed bool
	mu     sync.Mutex
}

func (s *subscription[T]) deliver(snapshot T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(snapshot)
}

// Cancel detaches the subscription. The per-subscription lock makes the
// guarantee strict: once Cancel returns, no callback is running and
// none will run.
func (s *subscription[T]) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.remove()
}

// SubscribeMessages registers a callback for full message-list
// snapshots of one conversation.
func (n *Notifier) SubscribeMessages(conversationID string, fn func([]models.Message)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++

	sub := &subscription[[]models.Message]{fn: fn}
	sub.remove = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.messageRooms[conversationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.messageRooms, conversationID)
			}
		}
		observability.DecSubscriptions("messages")
	}

	if _, ok := n.messageRooms[conversationID]; !ok {
		n.messageRooms[conversationID] = make(map[int]*subscription[[]models.Message])
	}
	n.messageRooms[conversationID][id] = sub
	observability.IncSubscriptions("messages")
	return sub
}

// SubscribeMembership registers a callback for full membership-list
// snapshots of one user.
func (n *Notifier) SubscribeMembership(userID string, fn func([]models.MembershipEntry)) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++

	sub := &subscription[[]models.MembershipEntry]{fn: fn}
	sub.remove = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.membershipRooms[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.membershipRooms, userID)
			}
		}
		observability.DecSubscriptions("membership")
	}

	if _, ok := n.membershipRooms[userID]; !ok {
		n.membershipRooms[userID] = make(map[int]*subscription[[]models.MembershipEntry])
	}
	n.membershipRooms[userID][id] = sub
	observability.IncSubscriptions("membership")
	return sub
}

// PublishMessages pushes a message snapshot to every subscriber of the
// conversation.
func (n *Notifier) PublishMessages(conversationID string, msgs []models.Message) {
	n.mu.RLock()
	subs := make([]*subscription[[]models.Message], 0, len(n.messageRooms[conversationID]))
	for _, sub := range n.messageRooms[conversationID] {
		subs = append(subs, sub)
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(msgs)
		observability.IncSnapshotPush("messages")
	}
}

// PublishMembership pushes a membership snapshot to every subscriber of
// the user.
func (n *Notifier) PublishMembership(userID string, entries []models.MembershipEntry) {
	n.mu.RLock()
	subs := make([]*subscription[[]models.MembershipEntry], 0, len(n.membershipRooms[userID]))
	for _, sub := range n.membershipRooms[userID] {
		subs = append(subs, sub)
	}
	n.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(entries)
		observability.IncSnapshotPush("membership")
	}
}
