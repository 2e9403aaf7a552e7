package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/blocking"
	"chat-sync/internal/directory"
	"chat-sync/internal/media"
	"chat-sync/internal/membership"
	"chat-sync/internal/models"
	"chat-sync/internal/store"
	"chat-sync/internal/stream"
	"chat-sync/internal/telemetry"
)

// ConversationHandler manages the conversation REST surface.
type ConversationHandler struct {
	store     store.Store
	directory directory.Directory
	connector *membership.Connector
	blocking  *blocking.Service
	uploader  media.Uploader
	emitter   *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(st store.Store, dir directory.Directory, connector *membership.Connector, blockSvc *blocking.Service, uploader media.Uploader, emitter *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		store:     st,
		directory: dir,
		connector: connector,
		blocking:  blockSvc,
		uploader:  uploader,
		emitter:   emitter,
	}
}

// List returns the caller's conversations, most recently active first,
// with peers resolved and anonymized where blocking requires it. The
// optional filter query narrows by peer username, case-insensitively.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := userIDFromContext(c)

	raw, err := h.store.GetMembership(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	entries := membership.Resolve(c.Request.Context(), h.directory, userID, raw)

	filter := strings.ToLower(c.Query("filter"))
	refs := make([]models.ConversationRef, 0, len(entries))
	for _, entry := range entries {
		if filter != "" && !strings.Contains(strings.ToLower(entry.Peer.Username), filter) {
			continue
		}
		refs = append(refs, entry.Ref())
	}

	c.JSON(http.StatusOK, gin.H{"conversations": refs})
}

// Start connects the caller with another user by username and creates
// their shared conversation.
func (h *ConversationHandler) Start(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := userIDFromContext(c)
	user, err := h.directory.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	conv, err := h.connector.Connect(c.Request.Context(), user, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		case errors.Is(err, membership.ErrSelfConversation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		case errors.Is(err, membership.ErrAlreadyConnected):
			c.JSON(http.StatusConflict, gin.H{"error": "conversation already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start conversation"})
		}
		return
	}

	h.emitter.Emit(c.Request.Context(), "conversation_started", conv.ID, requestIDFromContext(c), userID)
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conv.ID})
}

// MarkSeen flips the caller's seen flag for a conversation.
func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	if err := membership.MarkSeen(c.Request.Context(), h.store, userID, conversationID); err != nil {
		if errors.Is(err, membership.ErrNotMember) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark seen"})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetMessages returns the full conversation log for a member.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	_, ok, err := h.memberEntry(c, userID, conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	msgs, err := h.store.GetMessages(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage appends one message: JSON text or a multipart image. The
// same gate order applies as on the websocket path: validation, block
// check, upload, append.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	entry, ok, err := h.memberEntry(c, userID, conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	input, ok := h.bindSend(c)
	if !ok {
		return
	}

	user, err := h.directory.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	syn := stream.NewSynchronizer(h.store, h.blocking, h.uploader, user, conversationID, entry.PeerID)
	msg, err := syn.Send(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrEmptyMessage), errors.Is(err, stream.ErrConflictingContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, blocking.ErrBlocked):
			h.emitter.Emit(c.Request.Context(), "send_blocked", conversationID, requestIDFromContext(c), userID)
			c.JSON(http.StatusForbidden, gin.H{"error": "you cannot message a blocked user"})
		case errors.Is(err, media.ErrUpload):
			c.JSON(http.StatusBadGateway, gin.H{"error": "media upload failed, message not sent"})
		case errors.Is(err, store.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *ConversationHandler) memberEntry(c *gin.Context, userID, conversationID string) (models.MembershipEntry, bool, error) {
	entries, err := h.store.GetMembership(c.Request.Context(), userID)
	if err != nil {
		return models.MembershipEntry{}, false, err
	}
	for _, entry := range entries {
		if entry.ConversationID == conversationID {
			return entry, true, nil
		}
	}
	return models.MembershipEntry{}, false, nil
}

func (h *ConversationHandler) bindSend(c *gin.Context) (stream.SendInput, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return stream.SendInput{}, false
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return stream.SendInput{}, false
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return stream.SendInput{}, false
		}
		return stream.SendInput{Filename: file.Filename, FileData: data}, true
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return stream.SendInput{}, false
	}
	return stream.SendInput{Body: req.Body}, true
}
