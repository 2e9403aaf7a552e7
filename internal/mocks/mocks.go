package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/directory"
	"chat-sync/internal/media"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) CreateConversation(ctx context.Context) (models.Conversation, error) {
	args := m.Called(ctx)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *StoreMock) AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, conversationID, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *StoreMock) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) SubscribeMessages(conversationID string, fn func([]models.Message)) store.Subscription {
	args := m.Called(conversationID, fn)
	if val := args.Get(0); val != nil {
		return val.(store.Subscription)
	}
	return nil
}

func (m *StoreMock) GetMembership(ctx context.Context, userID string) ([]models.MembershipEntry, error) {
	args := m.Called(ctx, userID)
	var entries []models.MembershipEntry
	if val := args.Get(0); val != nil {
		entries = val.([]models.MembershipEntry)
	}
	return entries, args.Error(1)
}

func (m *StoreMock) SetMembership(ctx context.Context, userID string, entries []models.MembershipEntry) error {
	args := m.Called(ctx, userID, entries)
	return args.Error(0)
}

func (m *StoreMock) SubscribeMembership(userID string, fn func([]models.MembershipEntry)) store.Subscription {
	args := m.Called(userID, fn)
	if val := args.Get(0); val != nil {
		return val.(store.Subscription)
	}
	return nil
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) CreateUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *DirectoryMock) GetUser(ctx context.Context, id string) (models.User, error) {
	args := m.Called(ctx, id)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *DirectoryMock) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	args := m.Called(ctx, username)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *DirectoryMock) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *DirectoryMock) SetBlockedList(ctx context.Context, userID string, blocked []string) error {
	args := m.Called(ctx, userID, blocked)
	return args.Error(0)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	args := m.Called(ctx, filename, data)
	return args.String(0), args.Error(1)
}

type SubscriptionMock struct {
	mock.Mock
}

func (m *SubscriptionMock) Cancel() {
	m.Called()
}

var _ store.Store = (*StoreMock)(nil)
var _ store.Subscription = (*SubscriptionMock)(nil)
var _ directory.Directory = (*DirectoryMock)(nil)
var _ media.Uploader = (*UploaderMock)(nil)
