package membership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/directory"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

var ErrNotMember = errors.New("user is not a member of the conversation")

const resolveTimeout = 5 * time.Second

// Entry is a membership record resolved against the directory.
type Entry struct {
	models.MembershipEntry
	Peer         models.User
	PeerResolved bool
}

// Ref converts the entry to its wire representation.
func (e Entry) Ref() models.ConversationRef {
	return models.ConversationRef{
		MembershipEntry: e.MembershipEntry,
		PeerUsername:    e.Peer.Username,
		PeerAvatarURL:   e.Peer.AvatarURL,
	}
}

// Index maintains one user's live conversation list. Every remote push
// replaces the list wholesale; ordering and peer resolution are
// recomputed from scratch each time rather than patched incrementally,
// so the view can never drift from the store.
type Index struct {
	store     store.Store
	directory directory.Directory
	userID    string

	entries  []Entry
	sub      store.Subscription
	onUpdate func([]Entry)
	pushed   bool
	mu       sync.Mutex
}

// NewIndex constructs an Index for one user.
func NewIndex(st store.Store, dir directory.Directory, userID string) *Index {
	return &Index{store: st, directory: dir, userID: userID}
}

// Start subscribes for changes and then loads the current membership
// list. Subscribing first closes the window where an entry updated
// during the load would never be delivered; if a push lands while the
// load is in flight, the push is the fresher read and the loaded list
// is discarded.
func (i *Index) Start(ctx context.Context) error {
	sub := i.store.SubscribeMembership(i.userID, func(entries []models.MembershipEntry) {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		i.apply(ctx, entries, true)
	})
	i.mu.Lock()
	i.sub = sub
	i.mu.Unlock()

	raw, err := i.store.GetMembership(ctx, i.userID)
	if err != nil {
		i.Close()
		return fmt.Errorf("load membership: %w", err)
	}
	i.apply(ctx, raw, false)
	return nil
}

// Close cancels the live subscription.
func (i *Index) Close() {
	i.mu.Lock()
	sub := i.sub
	i.sub = nil
	i.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// OnUpdate registers a callback invoked with the resolved, sorted list
// after every applied push.
func (i *Index) OnUpdate(fn func([]Entry)) {
	i.mu.Lock()
	i.onUpdate = fn
	i.mu.Unlock()
}

// Entries returns a copy of the current resolved list, most recently
// active conversation first.
func (i *Index) Entries() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Entry, len(i.entries))
	copy(out, i.entries)
	return out
}

// Filter returns entries whose peer username contains the query,
// case-insensitively. Local only; never touches the store.
func (i *Index) Filter(query string) []Entry {
	needle := strings.ToLower(query)
	var out []Entry
	for _, entry := range i.Entries() {
		if strings.Contains(strings.ToLower(entry.Peer.Username), needle) {
			out = append(out, entry)
		}
	}
	return out
}

// Get returns the entry for a conversation.
func (i *Index) Get(conversationID string) (Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, entry := range i.entries {
		if entry.ConversationID == conversationID {
			return entry, true
		}
	}
	return Entry{}, false
}

// MarkSeen flips IsSeen for one conversation and persists the full
// updated sequence. The write is an unconditional overwrite: a
// concurrent update from another device can be lost (last writer wins),
// which is an accepted weak-consistency tradeoff.
func (i *Index) MarkSeen(ctx context.Context, conversationID string) error {
	i.mu.Lock()
	found := false
	raw := make([]models.MembershipEntry, 0, len(i.entries))
	for idx := range i.entries {
		entry := i.entries[idx].MembershipEntry
		if entry.ConversationID == conversationID {
			entry.IsSeen = true
			i.entries[idx].IsSeen = true
			found = true
		}
		raw = append(raw, entry)
	}
	i.mu.Unlock()

	if !found {
		return ErrNotMember
	}
	return i.store.SetMembership(ctx, i.userID, raw)
}

func (i *Index) apply(ctx context.Context, raw []models.MembershipEntry, fromPush bool) {
	resolved := Resolve(ctx, i.directory, i.userID, raw)

	i.mu.Lock()
	if !fromPush && i.pushed {
		// A push overtook the initial load; the loaded list is older.
		i.mu.Unlock()
		return
	}
	if fromPush {
		i.pushed = true
	}
	i.entries = resolved
	fn := i.onUpdate
	i.mu.Unlock()

	if fn != nil {
		out := make([]Entry, len(resolved))
		copy(out, resolved)
		fn(out)
	}
}

// Resolve attaches peer profiles to raw membership entries and sorts
// them most recently active first. A failed lookup degrades that entry
// to a placeholder instead of failing the whole list, and a peer who
// has blocked the viewer is anonymized before anything renders it.
func Resolve(ctx context.Context, dir directory.Directory, viewerID string, raw []models.MembershipEntry) []Entry {
	resolved := make([]Entry, 0, len(raw))
	for _, item := range raw {
		peer, err := dir.GetUser(ctx, item.PeerID)
		if err != nil {
			if !errors.Is(err, directory.ErrUserNotFound) {
				log.Printf("peer lookup failed for %s: %v", item.PeerID, err)
			}
			resolved = append(resolved, Entry{
				MembershipEntry: item,
				Peer:            models.User{ID: item.PeerID, Username: "Unknown User"},
			})
			continue
		}
		if peer.HasBlocked(viewerID) {
			peer = peer.Anonymized()
		}
		resolved = append(resolved, Entry{MembershipEntry: item, Peer: peer, PeerResolved: true})
	}
	sort.SliceStable(resolved, func(a, b int) bool {
		return resolved[a].UpdatedAt.After(resolved[b].UpdatedAt)
	})
	return resolved
}

// MarkSeen flips IsSeen for one conversation directly against the
// store, for callers that do not hold a live index. Same last-writer-
// wins overwrite as Index.MarkSeen.
func MarkSeen(ctx context.Context, st store.Store, userID, conversationID string) error {
	entries, err := st.GetMembership(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for idx := range entries {
		if entries[idx].ConversationID == conversationID {
			entries[idx].IsSeen = true
			found = true
		}
	}
	if !found {
		return ErrNotMember
	}
	return st.SetMembership(ctx, userID, entries)
}
