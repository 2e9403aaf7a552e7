package store

import (
	"context"
	"errors"

	"chat-sync/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Subscription is a handle to a live snapshot feed. Cancel is
// idempotent; once it returns, no further callbacks fire.
type Subscription interface {
	Cancel()
}

// Store abstracts durable conversation persistence plus the
// subscribe-for-changes primitive. Every change notification carries
// the full current view, never a delta: subscribers replace their local
// state wholesale on each push.
type Store interface {
	CreateConversation(ctx context.Context) (models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SubscribeMessages(conversationID string, fn func([]models.Message)) Subscription

	GetMembership(ctx context.Context, userID string) ([]models.MembershipEntry, error)
	SetMembership(ctx context.Context, userID string, entries []models.MembershipEntry) error
	SubscribeMembership(userID string, fn func([]models.MembershipEntry)) Subscription
}
