package blocking

import (
	"context"
	"errors"

	"chat-sync/internal/directory"
	"chat-sync/internal/models"
)

// ErrBlocked is returned when a send is attempted while either side of
// the conversation has an active block.
var ErrBlocked = errors.New("conversation is blocked")

// Flags holds the directional block state between the current user and
// a peer. The two directions are independent: neither implies the
// other, and the relation is not transitive.
type Flags struct {
	// CurrentUserBlocked means the peer has blocked the current user.
	CurrentUserBlocked bool `json:"current_user_blocked"`
	// PeerBlocked means the current user has blocked the peer.
	PeerBlocked bool `json:"peer_blocked"`
}

// Active reports whether either direction is blocked.
func (f Flags) Active() bool {
	return f.CurrentUserBlocked || f.PeerBlocked
}

// Evaluate derives block flags from the two user records. Pure.
func Evaluate(current, peer models.User) Flags {
	return Flags{
		CurrentUserBlocked: peer.HasBlocked(current.ID),
		PeerBlocked:        current.HasBlocked(peer.ID),
	}
}

// Service persists block/unblock decisions through the directory.
type Service struct {
	directory directory.Directory
}

// NewService constructs a Service.
func NewService(dir directory.Directory) *Service {
	return &Service{directory: dir}
}

// Block adds peerID to the user's blocked set. Union semantics:
// blocking an already-blocked peer is a no-op.
func (s *Service) Block(ctx context.Context, user models.User, peerID string) error {
	if user.HasBlocked(peerID) {
		return nil
	}
	blocked := append(append([]string{}, user.Blocked...), peerID)
	return s.directory.SetBlockedList(ctx, user.ID, blocked)
}

// Unblock removes peerID from the user's blocked set. Removing an
// absent element is a no-op.
func (s *Service) Unblock(ctx context.Context, user models.User, peerID string) error {
	if !user.HasBlocked(peerID) {
		return nil
	}
	blocked := make([]string, 0, len(user.Blocked))
	for _, id := range user.Blocked {
		if id != peerID {
			blocked = append(blocked, id)
		}
	}
	return s.directory.SetBlockedList(ctx, user.ID, blocked)
}

// EvaluateFresh re-reads both user records and evaluates the flags.
// Send paths use this instead of session-cached flags to close the race
// where blocking state changed after the conversation was opened.
func (s *Service) EvaluateFresh(ctx context.Context, currentUserID, peerID string) (Flags, error) {
	current, err := s.directory.GetUser(ctx, currentUserID)
	if err != nil {
		return Flags{}, err
	}
	peer, err := s.directory.GetUser(ctx, peerID)
	if err != nil {
		return Flags{}, err
	}
	return Evaluate(current, peer), nil
}
