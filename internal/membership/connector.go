package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-sync/internal/directory"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

var (
	ErrAlreadyConnected = errors.New("users already share a conversation")
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)

// Connector implements the add-user flow: it creates a conversation
// between two users and writes the symmetric membership entries.
type Connector struct {
	store     store.Store
	directory directory.Directory
}

// NewConnector constructs a Connector.
func NewConnector(st store.Store, dir directory.Directory) *Connector {
	return &Connector{store: st, directory: dir}
}

// Connect finds the peer by username and links both users to a fresh
// conversation. The pair of entries reference each other's id; the new
// conversation starts with an empty preview and unseen on both sides.
func (c *Connector) Connect(ctx context.Context, currentUser models.User, peerUsername string) (models.Conversation, error) {
	peer, err := c.directory.FindUserByUsername(ctx, peerUsername)
	if err != nil {
		return models.Conversation{}, err
	}
	if peer.ID == currentUser.ID {
		return models.Conversation{}, ErrSelfConversation
	}

	mine, err := c.store.GetMembership(ctx, currentUser.ID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load membership: %w", err)
	}
	theirs, err := c.store.GetMembership(ctx, peer.ID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("load peer membership: %w", err)
	}
	if references(mine, peer.ID) || references(theirs, currentUser.ID) {
		return models.Conversation{}, ErrAlreadyConnected
	}

	conv, err := c.store.CreateConversation(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	now := time.Now()
	mine = append(mine, models.MembershipEntry{
		ConversationID: conv.ID,
		PeerID:         peer.ID,
		UpdatedAt:      now,
	})
	theirs = append(theirs, models.MembershipEntry{
		ConversationID: conv.ID,
		PeerID:         currentUser.ID,
		UpdatedAt:      now,
	})

	if err := c.store.SetMembership(ctx, currentUser.ID, mine); err != nil {
		return models.Conversation{}, fmt.Errorf("save membership: %w", err)
	}
	if err := c.store.SetMembership(ctx, peer.ID, theirs); err != nil {
		return models.Conversation{}, fmt.Errorf("save peer membership: %w", err)
	}
	return conv, nil
}

func references(entries []models.MembershipEntry, peerID string) bool {
	for _, entry := range entries {
		if entry.PeerID == peerID {
			return true
		}
	}
	return false
}
