package store

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

// SQLStore is a sqlx implementation of Store. Change notification is
// in-process: every mutation re-reads the affected view and publishes
// it through the notifier. Reload and publish are serialized per room
// so snapshots always go out in read order; otherwise a delayed reload
// could deliver an older, shorter view after a newer one and
// subscribers would see a confirmed entry vanish.
type SQLStore struct {
	db       *sqlx.DB
	notifier *Notifier

	pubLocks map[string]*sync.Mutex
	pubMu    sync.Mutex
}

// NewSQLStore constructs a SQLStore around an existing notifier so
// other components can share the fan-out.
func NewSQLStore(db *sqlx.DB, notifier *Notifier) *SQLStore {
	return &SQLStore{db: db, notifier: notifier, pubLocks: make(map[string]*sync.Mutex)}
}

// CreateConversation inserts an empty conversation.
func (s *SQLStore) CreateConversation(ctx context.Context) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (id) VALUES ($1) RETURNING id, created_at`,
		uuid.NewString()).Scan(&conv.ID, &conv.CreatedAt)
	return conv, err
}

// AppendMessage appends to the conversation log and pushes the full
// updated list to message subscribers. CreatedAt is assigned by the
// database; the client placeholder timestamp is discarded.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1)`, conversationID); err != nil {
		return models.Message{}, err
	}
	if !exists {
		return models.Message{}, ErrConversationNotFound
	}

	stored := msg
	stored.ConversationID = conversationID
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body, media_url) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		conversationID, msg.SenderID, msg.Body, msg.MediaURL).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	s.publishMessages(ctx, conversationID)
	return stored, nil
}

// GetMessages returns the full conversation log in append order.
// Insertion order and created_at order coincide because the log is
// append-only with server-assigned timestamps.
func (s *SQLStore) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.SelectContext(ctx, &msgs,
		`SELECT id, conversation_id, sender_id, body, media_url, created_at FROM messages WHERE conversation_id=$1 ORDER BY id ASC`,
		conversationID)
	return msgs, err
}

// SubscribeMessages attaches a snapshot callback for one conversation.
func (s *SQLStore) SubscribeMessages(conversationID string, fn func([]models.Message)) Subscription {
	return s.notifier.SubscribeMessages(conversationID, fn)
}

// GetMembership returns the user's membership entries.
func (s *SQLStore) GetMembership(ctx context.Context, userID string) ([]models.MembershipEntry, error) {
	entries := []models.MembershipEntry{}
	err := s.db.SelectContext(ctx, &entries,
		`SELECT conversation_id, peer_id, last_message, updated_at, is_seen FROM membership WHERE user_id=$1`,
		userID)
	return entries, err
}

// SetMembership overwrites the user's full membership sequence and
// pushes the new state to membership subscribers. The overwrite is
// unconditional (last writer wins); concurrent writers from another
// device can race and one update can be lost. Accepted tradeoff.
func (s *SQLStore) SetMembership(ctx context.Context, userID string, entries []models.MembershipEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM membership WHERE user_id=$1`, userID); err != nil {
		return err
	}
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO membership (user_id, conversation_id, peer_id, last_message, updated_at, is_seen) VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, entry.ConversationID, entry.PeerID, entry.LastMessage, entry.UpdatedAt, entry.IsSeen); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.publishMembership(ctx, userID)
	return nil
}

// SubscribeMembership attaches a snapshot callback for one user.
func (s *SQLStore) SubscribeMembership(userID string, fn func([]models.MembershipEntry)) Subscription {
	return s.notifier.SubscribeMembership(userID, fn)
}

func (s *SQLStore) publishMessages(ctx context.Context, conversationID string) {
	lock := s.publishLock("messages/" + conversationID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := s.GetMessages(ctx, conversationID)
	if err != nil {
		log.Printf("message snapshot reload failed: %v", err)
		return
	}
	s.notifier.PublishMessages(conversationID, msgs)
}

func (s *SQLStore) publishMembership(ctx context.Context, userID string) {
	lock := s.publishLock("membership/" + userID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.GetMembership(ctx, userID)
	if err != nil {
		log.Printf("membership snapshot reload failed: %v", err)
		return
	}
	s.notifier.PublishMembership(userID, entries)
}

// publishLock returns the room's reload+publish mutex, creating it on
// first use. Rooms lock independently so one busy conversation cannot
// stall another's notifications.
func (s *SQLStore) publishLock(key string) *sync.Mutex {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	lock, ok := s.pubLocks[key]
	if !ok {
		lock = new(sync.Mutex)
		s.pubLocks[key] = lock
	}
	return lock
}

var _ Store = (*SQLStore)(nil)
