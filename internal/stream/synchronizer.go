package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-sync/internal/blocking"
	"chat-sync/internal/media"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/store"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor attachment.
	ErrEmptyMessage = errors.New("message needs text or an attachment")
	// ErrConflictingContent rejects a send carrying both. Text and
	// attachment are mutually exclusive per message.
	ErrConflictingContent = errors.New("message cannot carry both text and an attachment")
)

const (
	// pendingMatchWindow bounds how far a confirmed server timestamp
	// may drift from the optimistic client timestamp and still settle
	// the pending entry.
	pendingMatchWindow = 2 * time.Minute

	imagePreview = "[image]"
)

// SendInput is the content of one send: either Body, or a file.
type SendInput struct {
	Body     string
	Filename string
	FileData []byte
}

// Synchronizer mirrors one conversation's remote log into a local
// view. The confirmed log is replaced wholesale on every push (the
// store sends full snapshots, not diffs); optimistic sends live in a
// separate pending buffer appended after the confirmed entries, and a
// pending entry is dropped once a matching confirmed entry arrives.
type Synchronizer struct {
	store    store.Store
	blocking *blocking.Service
	uploader media.Uploader

	user           models.User
	conversationID string
	peerID         string

	confirmed []models.Message
	pending   []models.Message
	nextLocal int
	sub       store.Subscription
	onUpdate  func([]models.Message)
	mu        sync.Mutex
}

// NewSynchronizer constructs a Synchronizer for one open conversation.
func NewSynchronizer(st store.Store, blockSvc *blocking.Service, uploader media.Uploader, user models.User, conversationID, peerID string) *Synchronizer {
	return &Synchronizer{
		store:          st,
		blocking:       blockSvc,
		uploader:       uploader,
		user:           user,
		conversationID: conversationID,
		peerID:         peerID,
	}
}

// ConversationID returns the conversation this synchronizer mirrors.
func (s *Synchronizer) ConversationID() string {
	return s.conversationID
}

// OnUpdate registers the callback invoked with the merged view after
// every change. Must be set before Start.
func (s *Synchronizer) OnUpdate(fn func([]models.Message)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Start subscribes to the change feed and then loads the current log.
// The subscription is registered first so a message confirmed while the
// load is in flight still reaches the view; the staleness guard in
// applySnapshot keeps the slower of the two reads from clobbering the
// newer. A failure here leaves the view stale; the caller surfaces it
// and must re-select the conversation to resubscribe.
func (s *Synchronizer) Start(ctx context.Context) error {
	sub := s.store.SubscribeMessages(s.conversationID, s.applySnapshot)
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	msgs, err := s.store.GetMessages(ctx, s.conversationID)
	if err != nil {
		s.Close()
		return fmt.Errorf("load messages: %w", err)
	}
	s.applySnapshot(msgs)
	return nil
}

// Close cancels the change-feed subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// View returns the merged local view: confirmed entries in store order
// (authoritative, never reordered locally), then unsettled pending
// sends.
func (s *Synchronizer) View() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedLocked()
}

// Send validates, gates, uploads and appends one message. The step
// order is fixed: content check, block gate, media upload, append,
// membership update. The gate re-reads both user records so a block
// applied after the conversation was opened still rejects the send,
// and a gate failure issues no I/O at all.
func (s *Synchronizer) Send(ctx context.Context, input SendInput) (models.Message, error) {
	ctx, span := otel.Tracer("chat-sync/stream").Start(ctx, "sync.send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", s.conversationID))

	hasBody := input.Body != ""
	hasFile := len(input.FileData) > 0
	if !hasBody && !hasFile {
		observability.IncSend("invalid")
		return models.Message{}, ErrEmptyMessage
	}
	if hasBody && hasFile {
		observability.IncSend("invalid")
		return models.Message{}, ErrConflictingContent
	}

	flags, err := s.blocking.EvaluateFresh(ctx, s.user.ID, s.peerID)
	if err != nil {
		observability.IncSend("error")
		return models.Message{}, fmt.Errorf("evaluate block state: %w", err)
	}
	if flags.Active() {
		observability.IncSend("blocked")
		return models.Message{}, blocking.ErrBlocked
	}

	msg := models.Message{
		ConversationID: s.conversationID,
		SenderID:       s.user.ID,
		Body:           input.Body,
		CreatedAt:      time.Now(),
	}
	if hasFile {
		url, err := s.uploader.Upload(ctx, input.Filename, input.FileData)
		if err != nil {
			observability.IncSend("upload_failed")
			return models.Message{}, err
		}
		msg.MediaURL = url
	}

	local := s.addPending(msg)

	stored, err := s.store.AppendMessage(ctx, s.conversationID, msg)
	if err != nil {
		s.dropPending(local)
		observability.IncSend("error")
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}

	if err := s.touchMembership(ctx, stored); err != nil {
		log.Printf("membership refresh after send failed: %v", err)
	}

	observability.IncSend("sent")
	return stored, nil
}

// applySnapshot replaces the confirmed log and settles pending entries
// the snapshot confirms. Snapshots older than the applied log are
// dropped: the load and concurrent pushes race, and only a view that
// never un-appends a confirmed message is acceptable.
func (s *Synchronizer) applySnapshot(msgs []models.Message) {
	s.mu.Lock()
	if staleSnapshot(s.confirmed, msgs) {
		s.mu.Unlock()
		return
	}
	s.confirmed = msgs
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if !settled(msgs, p) {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining
	view := s.mergedLocked()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(view)
	}
}

func (s *Synchronizer) mergedLocked() []models.Message {
	out := make([]models.Message, 0, len(s.confirmed)+len(s.pending))
	out = append(out, s.confirmed...)
	out = append(out, s.pending...)
	return out
}

func (s *Synchronizer) addPending(msg models.Message) int {
	s.mu.Lock()
	s.nextLocal--
	msg.ID = s.nextLocal
	msg.Pending = true
	s.pending = append(s.pending, msg)
	view := s.mergedLocked()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(view)
	}
	return msg.ID
}

func (s *Synchronizer) dropPending(localID int) {
	s.mu.Lock()
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if p.ID != localID {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining
	view := s.mergedLocked()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(view)
	}
}

// staleSnapshot reports whether an incoming confirmed log was read
// before the one already applied. The log is append-only with
// monotonically increasing server ids, so a snapshot whose tail id is
// lower than the applied tail id is an older read.
func staleSnapshot(current, incoming []models.Message) bool {
	if len(current) == 0 {
		return false
	}
	if len(incoming) == 0 {
		return true
	}
	return incoming[len(incoming)-1].ID < current[len(current)-1].ID
}

// settled reports whether the confirmed log contains an equivalent of
// the pending entry: same sender, same content, server timestamp close
// to the optimistic one.
func settled(confirmed []models.Message, p models.Message) bool {
	for _, c := range confirmed {
		if c.SenderID != p.SenderID || c.Body != p.Body || c.MediaURL != p.MediaURL {
			continue
		}
		drift := c.CreatedAt.Sub(p.CreatedAt)
		if drift < 0 {
			drift = -drift
		}
		if drift <= pendingMatchWindow {
			return true
		}
	}
	return false
}

// touchMembership refreshes both participants' membership entries after
// a confirmed send: new preview, bumped timestamp, sender seen,
// receiver unseen.
func (s *Synchronizer) touchMembership(ctx context.Context, stored models.Message) error {
	preview := stored.Body
	if stored.MediaURL != "" {
		preview = imagePreview
	}

	for _, side := range []struct {
		userID string
		seen   bool
	}{
		{s.user.ID, true},
		{s.peerID, false},
	} {
		entries, err := s.store.GetMembership(ctx, side.userID)
		if err != nil {
			return err
		}
		for idx := range entries {
			if entries[idx].ConversationID == s.conversationID {
				entries[idx].LastMessage = preview
				entries[idx].UpdatedAt = stored.CreatedAt
				entries[idx].IsSeen = side.seen
			}
		}
		if err := s.store.SetMembership(ctx, side.userID, entries); err != nil {
			return err
		}
	}
	return nil
}
