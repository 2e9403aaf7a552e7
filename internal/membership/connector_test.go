package membership

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/directory"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func TestConnectCreatesSymmetricEntries(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	connector := NewConnector(st, dir)

	current := models.User{ID: "u1", Username: "alice"}
	dir.On("FindUserByUsername", mock.Anything, "bob").Return(models.User{ID: "u2", Username: "bob"}, nil).Once()
	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{}, nil).Once()
	st.On("GetMembership", mock.Anything, "u2").Return([]models.MembershipEntry{}, nil).Once()
	st.On("CreateConversation", mock.Anything).Return(models.Conversation{ID: "conv-1", CreatedAt: time.Now()}, nil).Once()

	st.On("SetMembership", mock.Anything, "u1", mock.MatchedBy(func(entries []models.MembershipEntry) bool {
		return len(entries) == 1 && entries[0].ConversationID == "conv-1" &&
			entries[0].PeerID == "u2" && !entries[0].IsSeen && entries[0].LastMessage == ""
	})).Return(nil).Once()
	st.On("SetMembership", mock.Anything, "u2", mock.MatchedBy(func(entries []models.MembershipEntry) bool {
		return len(entries) == 1 && entries[0].ConversationID == "conv-1" &&
			entries[0].PeerID == "u1" && !entries[0].IsSeen && entries[0].LastMessage == ""
	})).Return(nil).Once()

	conv, err := connector.Connect(context.Background(), current, "bob")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	st.AssertExpectations(t)
	dir.AssertExpectations(t)
}

func TestConnectRejectsSelf(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	connector := NewConnector(st, dir)

	dir.On("FindUserByUsername", mock.Anything, "alice").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()

	_, err := connector.Connect(context.Background(), models.User{ID: "u1", Username: "alice"}, "alice")
	assert.ErrorIs(t, err, ErrSelfConversation)
	st.AssertNotCalled(t, "CreateConversation", mock.Anything)
}

func TestConnectRejectsExistingPair(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	connector := NewConnector(st, dir)

	dir.On("FindUserByUsername", mock.Anything, "bob").Return(models.User{ID: "u2"}, nil).Once()
	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "conv-0", PeerID: "u2"},
	}, nil).Once()
	st.On("GetMembership", mock.Anything, "u2").Return([]models.MembershipEntry{}, nil).Once()

	_, err := connector.Connect(context.Background(), models.User{ID: "u1"}, "bob")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	st.AssertNotCalled(t, "CreateConversation", mock.Anything)
	st.AssertNotCalled(t, "SetMembership", mock.Anything, mock.Anything, mock.Anything)
}

func TestConnectUnknownPeer(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	connector := NewConnector(st, dir)

	dir.On("FindUserByUsername", mock.Anything, "ghost").Return(nil, directory.ErrUserNotFound).Once()

	_, err := connector.Connect(context.Background(), models.User{ID: "u1"}, "ghost")
	assert.ErrorIs(t, err, directory.ErrUserNotFound)
}
