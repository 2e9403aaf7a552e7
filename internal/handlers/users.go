package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/blocking"
	"chat-sync/internal/directory"
	"chat-sync/internal/telemetry"
)

// UserHandler manages user lookup and block state.
type UserHandler struct {
	directory directory.Directory
	blocking  *blocking.Service
	emitter   *telemetry.AuditEmitter
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(dir directory.Directory, blockSvc *blocking.Service, emitter *telemetry.AuditEmitter) *UserHandler {
	return &UserHandler{directory: dir, blocking: blockSvc, emitter: emitter}
}

// Me returns the authenticated user's record.
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.directory.GetUser(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Search finds a user by exact username. The public view exposes only
// id, username and avatar.
func (h *UserHandler) Search(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user, err := h.directory.FindUserByUsername(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"avatar_url": user.AvatarURL,
	}})
}

// Block adds the target to the caller's blocked set. Idempotent.
func (h *UserHandler) Block(c *gin.Context) {
	h.setBlock(c, true)
}

// Unblock removes the target from the caller's blocked set. Idempotent.
func (h *UserHandler) Unblock(c *gin.Context) {
	h.setBlock(c, false)
}

func (h *UserHandler) setBlock(c *gin.Context, block bool) {
	peerID := c.Param("user_id")
	userID := userIDFromContext(c)
	if peerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	if block {
		err = h.blocking.Block(c.Request.Context(), user, peerID)
	} else {
		err = h.blocking.Unblock(c.Request.Context(), user, peerID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update block list"})
		return
	}

	action := "user_blocked"
	if !block {
		action = "user_unblocked"
	}
	h.emitter.Emit(c.Request.Context(), action, peerID, requestIDFromContext(c), userID)
	c.Status(http.StatusNoContent)
}
