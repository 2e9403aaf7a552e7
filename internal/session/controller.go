package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"chat-sync/internal/blocking"
	"chat-sync/internal/media"
	"chat-sync/internal/membership"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
	"chat-sync/internal/stream"
)

var ErrNoActiveConversation = errors.New("no conversation selected")

// Controller drives one user's session: which conversation is active,
// its cached block flags, and the single live message subscription.
// Switching conversations closes the old subscription before opening
// the new one, and a generation counter discards callbacks from a
// superseded subscription that the transport already delivered.
type Controller struct {
	store    store.Store
	blocking *blocking.Service
	uploader media.Uploader
	user     models.User
	index    *membership.Index

	active     *stream.Synchronizer
	generation int
	flags      blocking.Flags
	peer       models.User
	onMessages func(conversationID string, msgs []models.Message)

	opMu sync.Mutex // serializes Select/Deselect
	mu   sync.Mutex // guards session state
}

// NewController constructs a Controller for one user session.
func NewController(st store.Store, blockSvc *blocking.Service, uploader media.Uploader, user models.User, index *membership.Index) *Controller {
	return &Controller{
		store:    st,
		blocking: blockSvc,
		uploader: uploader,
		user:     user,
		index:    index,
	}
}

// OnMessages registers the callback that receives the merged message
// view of the active conversation.
func (c *Controller) OnMessages(fn func(conversationID string, msgs []models.Message)) {
	c.mu.Lock()
	c.onMessages = fn
	c.mu.Unlock()
}

// Active returns the active conversation id, if any.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.ConversationID(), true
}

// Flags returns the block flags cached when the conversation was
// selected. Display state only; sends re-validate.
func (c *Controller) Flags() blocking.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// Peer returns the active conversation's peer as resolved at select
// time, already anonymized if the peer blocked this user.
func (c *Controller) Peer() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Select activates a conversation: evaluates and caches block flags,
// swaps the message subscription, and marks the conversation seen.
// Re-selecting the active conversation only re-runs the seen marking.
func (c *Controller) Select(ctx context.Context, entry membership.Entry) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	current := c.active
	c.mu.Unlock()

	if current != nil && current.ConversationID() == entry.ConversationID {
		return c.markSeen(ctx, entry.ConversationID)
	}

	flags, err := c.blocking.EvaluateFresh(ctx, c.user.ID, entry.PeerID)
	if err != nil {
		return fmt.Errorf("evaluate block state: %w", err)
	}

	// Detach the old subscription first so the two never overlap, and
	// bump the generation so anything it already delivered is stale.
	c.mu.Lock()
	c.generation++
	generation := c.generation
	old := c.active
	c.active = nil
	c.flags = flags
	c.peer = entry.Peer
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	syn := stream.NewSynchronizer(c.store, c.blocking, c.uploader, c.user, entry.ConversationID, entry.PeerID)
	syn.OnUpdate(func(view []models.Message) {
		c.mu.Lock()
		if c.generation != generation {
			c.mu.Unlock()
			return
		}
		fn := c.onMessages
		c.mu.Unlock()
		if fn != nil {
			fn(entry.ConversationID, view)
		}
	})

	if err := syn.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.active = syn
	c.mu.Unlock()

	return c.markSeen(ctx, entry.ConversationID)
}

// Deselect returns the session to the no-conversation state and
// cancels the active subscription.
func (c *Controller) Deselect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.generation++
	old := c.active
	c.active = nil
	c.flags = blocking.Flags{}
	c.peer = models.User{}
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Send forwards to the active conversation's synchronizer.
func (c *Controller) Send(ctx context.Context, input stream.SendInput) (models.Message, error) {
	c.mu.Lock()
	syn := c.active
	c.mu.Unlock()
	if syn == nil {
		return models.Message{}, ErrNoActiveConversation
	}
	return syn.Send(ctx, input)
}

// Messages returns the merged view of the active conversation.
func (c *Controller) Messages() ([]models.Message, error) {
	c.mu.Lock()
	syn := c.active
	c.mu.Unlock()
	if syn == nil {
		return nil, ErrNoActiveConversation
	}
	return syn.View(), nil
}

func (c *Controller) markSeen(ctx context.Context, conversationID string) error {
	if err := c.index.MarkSeen(ctx, conversationID); err != nil {
		if errors.Is(err, membership.ErrNotMember) {
			return err
		}
		// Seen state is cosmetic; a failed persist must not block the
		// conversation from opening.
		log.Printf("mark seen failed for %s: %v", conversationID, err)
	}
	return nil
}
