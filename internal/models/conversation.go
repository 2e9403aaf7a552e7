package models

import "time"

// Conversation is a two-party thread with an append-only message log.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MembershipEntry is one user's pointer into a conversation plus the
// denormalized preview state rendered in the conversation list. Exactly
// one entry exists per (user, conversation) pair, and the two entries
// of a conversation reference each other's PeerID.
type MembershipEntry struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	PeerID         string    `db:"peer_id" json:"peer_id"`
	LastMessage    string    `db:"last_message" json:"last_message"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	IsSeen         bool      `db:"is_seen" json:"is_seen"`
}
