package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/blocking"
	"chat-sync/internal/directory"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func setupUserRouter(dir *mocks.DirectoryMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})

	handler := NewUserHandler(dir, blocking.NewService(dir), nil)
	router.GET("/me", handler.Me)
	router.GET("/users/search", handler.Search)
	router.POST("/users/:user_id/block", handler.Block)
	router.DELETE("/users/:user_id/block", handler.Unblock)
	return router
}

func TestMe(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Username: "alice"}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")
}

func TestSearchExposesPublicFieldsOnly(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	dir.On("FindUserByUsername", mock.Anything, "bob").Return(models.User{
		ID:           "u2",
		Username:     "bob",
		Email:        "bob@example.com",
		PasswordHash: "secret-hash",
	}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/search?username=bob", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bob")
	assert.NotContains(t, w.Body.String(), "bob@example.com")
	assert.NotContains(t, w.Body.String(), "secret-hash")
}

func TestSearchMissingQuery(t *testing.T) {
	router := setupUserRouter(new(mocks.DirectoryMock))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/search", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchNotFound(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	dir.On("FindUserByUsername", mock.Anything, "ghost").Return(nil, directory.ErrUserNotFound).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/search?username=ghost", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlockUser(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()
	dir.On("SetBlockedList", mock.Anything, "u1", []string{"u2"}).Return(nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/u2/block", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	dir.AssertExpectations(t)
}

func TestBlockSelf(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/u1/block", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	dir.AssertNotCalled(t, "SetBlockedList", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnblockUser(t *testing.T) {
	dir := new(mocks.DirectoryMock)
	router := setupUserRouter(dir)

	dir.On("GetUser", mock.Anything, "u1").Return(models.User{ID: "u1", Blocked: []string{"u2"}}, nil).Once()
	dir.On("SetBlockedList", mock.Anything, "u1", []string{}).Return(nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/users/u2/block", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	dir.AssertExpectations(t)
}
