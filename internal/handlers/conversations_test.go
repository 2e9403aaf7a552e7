package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/blocking"
	"chat-sync/internal/media"
	"chat-sync/internal/membership"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupConversationRouter(st *mocks.StoreMock, dir *mocks.DirectoryMock, up *mocks.UploaderMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})

	blockSvc := blocking.NewService(dir)
	handler := NewConversationHandler(st, dir, membership.NewConnector(st, dir), blockSvc, up, nil)

	router.GET("/conversations", handler.List)
	router.POST("/conversations/start", handler.Start)
	router.POST("/conversations/:conversation_id/seen", handler.MarkSeen)
	router.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", handler.SendMessage)
	return router
}

func TestListConversations(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1", LastMessage: "hey", UpdatedAt: time.Now()},
		{ConversationID: "c2", PeerID: "p2", UpdatedAt: time.Now().Add(time.Minute)},
	}, nil).Once()
	dir.On("GetUser", mock.Anything, "p1").Return(models.User{ID: "p1", Username: "bob"}, nil).Once()
	dir.On("GetUser", mock.Anything, "p2").Return(models.User{ID: "p2", Username: "carol"}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Conversations []models.ConversationRef `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "carol", resp.Conversations[0].PeerUsername, "most recently active first")
	assert.Equal(t, "bob", resp.Conversations[1].PeerUsername)
}

func TestListConversationsFilter(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
		{ConversationID: "c2", PeerID: "p2"},
	}, nil).Once()
	dir.On("GetUser", mock.Anything, "p1").Return(models.User{ID: "p1", Username: "Bob"}, nil).Once()
	dir.On("GetUser", mock.Anything, "p2").Return(models.User{ID: "p2", Username: "carol"}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations?filter=BO", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Conversations []models.ConversationRef `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Bob", resp.Conversations[0].PeerUsername)
}

func TestListConversationsStoreError(t *testing.T) {
	st := new(mocks.StoreMock)
	router := setupConversationRouter(st, new(mocks.DirectoryMock), new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStartConversation(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()
	dir.On("FindUserByUsername", mock.Anything, "bob").Return(models.User{ID: "u2", Username: "bob"}, nil).Once()
	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{}, nil).Once()
	st.On("GetMembership", mock.Anything, "u2").Return([]models.MembershipEntry{}, nil).Once()
	st.On("CreateConversation", mock.Anything).Return(models.Conversation{ID: "conv-1"}, nil).Once()
	st.On("SetMembership", mock.Anything, "u1", mock.Anything).Return(nil).Once()
	st.On("SetMembership", mock.Anything, "u2", mock.Anything).Return(nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", strings.NewReader(`{"username":"bob"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "conv-1")
	st.AssertExpectations(t)
}

func TestStartConversationSelf(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()
	dir.On("FindUserByUsername", mock.Anything, "alice").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	st.AssertNotCalled(t, "CreateConversation", mock.Anything)
}

func TestStartConversationAlreadyConnected(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()
	dir.On("FindUserByUsername", mock.Anything, "bob").Return(models.User{ID: "u2"}, nil).Once()
	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c0", PeerID: "u2"},
	}, nil).Once()
	st.On("GetMembership", mock.Anything, "u2").Return([]models.MembershipEntry{}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/start", strings.NewReader(`{"username":"bob"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMarkSeen(t *testing.T) {
	st := new(mocks.StoreMock)
	router := setupConversationRouter(st, new(mocks.DirectoryMock), new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil).Once()
	st.On("SetMembership", mock.Anything, "u1", mock.MatchedBy(func(entries []models.MembershipEntry) bool {
		return len(entries) == 1 && entries[0].IsSeen
	})).Return(nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/seen", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	st.AssertExpectations(t)
}

func TestMarkSeenNotMember(t *testing.T) {
	st := new(mocks.StoreMock)
	router := setupConversationRouter(st, new(mocks.DirectoryMock), new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/seen", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetMessagesRequiresMembership(t *testing.T) {
	st := new(mocks.StoreMock)
	router := setupConversationRouter(st, new(mocks.DirectoryMock), new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	st.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything)
}

func TestGetMessages(t *testing.T) {
	st := new(mocks.StoreMock)
	router := setupConversationRouter(st, new(mocks.DirectoryMock), new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil).Once()
	st.On("GetMessages", mock.Anything, "c1").Return([]models.Message{
		{ID: 1, SenderID: "p1", Body: "hello"},
	}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")
}

func TestSendMessageText(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil)
	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil)
	dir.On("GetUser", mock.Anything, "p1").Return(models.User{ID: "p1"}, nil)
	st.On("AppendMessage", mock.Anything, "c1", mock.MatchedBy(func(msg models.Message) bool {
		return msg.Body == "hi" && msg.SenderID == "u1"
	})).Return(models.Message{ID: 3, ConversationID: "c1", SenderID: "u1", Body: "hi", CreatedAt: time.Now()}, nil).Once()
	st.On("GetMembership", mock.Anything, "p1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "u1"},
	}, nil)
	st.On("SetMembership", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"body":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":3`)
}

func TestSendMessageBlocked(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil)
	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Blocked: []string{"p1"}}, nil)
	dir.On("GetUser", mock.Anything, "p1").Return(models.User{ID: "p1"}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"body":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	st.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageEmptyBody(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	router := setupConversationRouter(st, dir, new(mocks.UploaderMock))

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil)
	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", strings.NewReader(`{"body":""}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageUploadFailure(t *testing.T) {
	st := new(mocks.StoreMock)
	dir := new(mocks.DirectoryMock)
	up := new(mocks.UploaderMock)
	router := setupConversationRouter(st, dir, up)

	st.On("GetMembership", mock.Anything, "u1").Return([]models.MembershipEntry{
		{ConversationID: "c1", PeerID: "p1"},
	}, nil)
	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil)
	dir.On("GetUser", mock.Anything, "p1").Return(models.User{ID: "p1"}, nil)
	up.On("Upload", mock.Anything, "cat.png", mock.Anything).Return("", media.ErrUpload).Once()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	st.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything)
}
