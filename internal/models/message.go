package models

import "time"

// Message is a single entry in a conversation log. Exactly one of Body
// and MediaURL is set. CreatedAt is server-assigned once confirmed; on
// an optimistic local insert it carries the client clock and Pending is
// true until a matching confirmed entry arrives.
type Message struct {
	ID             int       `db:"id" json:"id,omitempty"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	Body           string    `db:"body" json:"body,omitempty"`
	MediaURL       string    `db:"media_url" json:"media_url,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	Pending        bool      `db:"-" json:"pending,omitempty"`
}

// SyncEvent is pushed over WebSocket connections to session clients.
type SyncEvent struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Messages       []Message         `json:"messages,omitempty"`
	Conversations  []ConversationRef `json:"conversations,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// ConversationRef is a membership entry resolved against the directory,
// ready for display.
type ConversationRef struct {
	MembershipEntry
	PeerUsername  string `json:"peer_username"`
	PeerAvatarURL string `json:"peer_avatar_url,omitempty"`
}
