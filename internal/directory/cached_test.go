package directory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/cache"
	"chat-sync/internal/models"
)

// memCache is an in-memory Cache for tests; TTLs are ignored.
type memCache struct {
	data map[string]string
	mu   sync.Mutex
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]string)}
}

func (m *memCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return "", cache.ErrMiss
}

func (m *memCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memCache) Close() error { return nil }

// directoryMock is a local copy of the shared mock; the shared mocks
// package imports this one, so it cannot be used here.
type directoryMock struct {
	mock.Mock
}

func (m *directoryMock) CreateUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *directoryMock) GetUser(ctx context.Context, id string) (models.User, error) {
	args := m.Called(ctx, id)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *directoryMock) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *directoryMock) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *directoryMock) SetBlockedList(ctx context.Context, userID string, blocked []string) error {
	args := m.Called(ctx, userID, blocked)
	return args.Error(0)
}

func TestCachedGetUserHitsBackendOnce(t *testing.T) {
	next := new(directoryMock)
	cached := NewCached(next, newMemCache())

	next.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()

	for i := 0; i < 3; i++ {
		user, err := cached.GetUser(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	}
	next.AssertExpectations(t)
}

func TestCachedSetBlockedListInvalidates(t *testing.T) {
	next := new(directoryMock)
	cached := NewCached(next, newMemCache())

	next.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()
	_, err := cached.GetUser(context.Background(), "u1")
	require.NoError(t, err)

	next.On("SetBlockedList", mock.Anything, "u1", []string{"u2"}).Return(nil).Once()
	require.NoError(t, cached.SetBlockedList(context.Background(), "u1", []string{"u2"}))

	// The next read must see the updated record, not the cached one.
	next.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Blocked: []string{"u2"}}, nil).Once()
	user, err := cached.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, user.HasBlocked("u2"))
	next.AssertExpectations(t)
}

func TestCachedGetUserMissPropagatesNotFound(t *testing.T) {
	next := new(directoryMock)
	cached := NewCached(next, newMemCache())

	next.On("GetUser", mock.Anything, "ghost").Return(nil, ErrUserNotFound).Once()

	_, err := cached.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
