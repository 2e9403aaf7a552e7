package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"chat-sync/internal/cache"
	"chat-sync/internal/models"
)

const profileTTL = 30 * time.Second

// Cached fronts a Directory with a short-lived profile cache. Profile
// reads dominate membership resolution, so GetUser is the only cached
// path; writes invalidate. The TTL bounds staleness of block lists seen
// through the cache.
type Cached struct {
	next  Directory
	cache cache.Cache
}

// NewCached wraps a Directory with the given cache.
func NewCached(next Directory, c cache.Cache) *Cached {
	return &Cached{next: next, cache: c}
}

func (c *Cached) CreateUser(ctx context.Context, user models.User) error {
	return c.next.CreateUser(ctx, user)
}

func (c *Cached) GetUser(ctx context.Context, id string) (models.User, error) {
	if raw, err := c.cache.Get(ctx, profileKey(id)); err == nil {
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err == nil {
			return user, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("profile cache read failed: %v", err)
	}

	user, err := c.next.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if raw, err := json.Marshal(user); err == nil {
		if err := c.cache.Set(ctx, profileKey(id), string(raw), profileTTL); err != nil {
			log.Printf("profile cache write failed: %v", err)
		}
	}
	return user, nil
}

func (c *Cached) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	return c.next.FindUserByUsername(ctx, username)
}

func (c *Cached) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return c.next.FindUserByEmail(ctx, email)
}

func (c *Cached) SetBlockedList(ctx context.Context, userID string, blocked []string) error {
	if err := c.next.SetBlockedList(ctx, userID, blocked); err != nil {
		return err
	}
	if err := c.cache.Del(ctx, profileKey(userID)); err != nil {
		log.Printf("profile cache invalidate failed: %v", err)
	}
	return nil
}

func profileKey(id string) string {
	return "profile:" + id
}

var _ Directory = (*Cached)(nil)
