package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/auth"
	"chat-sync/internal/blocking"
	"chat-sync/internal/directory"
	"chat-sync/internal/media"
	"chat-sync/internal/membership"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/session"
	"chat-sync/internal/store"
	"chat-sync/internal/stream"
)

// SessionHandler upgrades a connection and runs one chat session over
// it: the client selects conversations and sends messages; the server
// pushes conversation-list and message-list snapshots.
type SessionHandler struct {
	store     store.Store
	directory directory.Directory
	blocking  *blocking.Service
	uploader  media.Uploader
	tokens    *auth.TokenManager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(st store.Store, dir directory.Directory, blockSvc *blocking.Service, uploader media.Uploader, tokens *auth.TokenManager) *SessionHandler {
	return &SessionHandler{store: st, directory: dir, blocking: blockSvc, uploader: uploader, tokens: tokens}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type command struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Body           string `json:"body,omitempty"`
}

// client serializes writes to one websocket connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(event models.SyncEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Handle upgrades the connection and drives the session until the
// client disconnects.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := h.directory.GetUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishSessionEvent(ctx, "ws_connect", info, "")

	h.runSession(conn, user, info)
}

func (h *SessionHandler) runSession(conn *websocket.Conn, user models.User, info ConnInfo) {
	cl := &client{conn: conn}

	index := membership.NewIndex(h.store, h.directory, user.ID)
	ctrl := session.NewController(h.store, h.blocking, h.uploader, user, index)

	index.OnUpdate(func(entries []membership.Entry) {
		refs := make([]models.ConversationRef, 0, len(entries))
		for _, entry := range entries {
			refs = append(refs, entry.Ref())
		}
		if err := cl.send(models.SyncEvent{Type: "conversations", Conversations: refs}); err != nil {
			log.Printf("websocket write error: %v", err)
		}
	})
	ctrl.OnMessages(func(conversationID string, msgs []models.Message) {
		if err := cl.send(models.SyncEvent{Type: "messages", ConversationID: conversationID, Messages: msgs}); err != nil {
			log.Printf("websocket write error: %v", err)
		}
	})

	defer func() {
		ctrl.Deselect()
		index.Close()
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishSessionEvent(context.Background(), "ws_disconnect", info, "")
	}()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := index.Start(startCtx)
	cancel()
	if err != nil {
		log.Printf("membership subscribe failed: %v", err)
		_ = cl.send(models.SyncEvent{Type: "error", Error: "conversation list unavailable"})
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishSessionEvent(context.Background(), "ws_error", info, err.Error())
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			_ = cl.send(models.SyncEvent{Type: "error", Error: "malformed command"})
			continue
		}
		h.dispatch(cl, ctrl, index, cmd)
	}
}

func (h *SessionHandler) dispatch(cl *client, ctrl *session.Controller, index *membership.Index, cmd command) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd.Type {
	case "select":
		entry, ok := index.Get(cmd.ConversationID)
		if !ok {
			_ = cl.send(models.SyncEvent{Type: "error", ConversationID: cmd.ConversationID, Error: "unknown conversation"})
			return
		}
		if err := ctrl.Select(ctx, entry); err != nil {
			_ = cl.send(models.SyncEvent{Type: "error", ConversationID: cmd.ConversationID, Error: "could not open conversation"})
		}
	case "deselect":
		ctrl.Deselect()
	case "send":
		if !sendTargetsActive(ctrl, cmd.ConversationID) {
			_ = cl.send(models.SyncEvent{Type: "error", ConversationID: cmd.ConversationID, Error: "conversation is not active"})
			return
		}
		if _, err := ctrl.Send(ctx, stream.SendInput{Body: cmd.Body}); err != nil {
			_ = cl.send(models.SyncEvent{Type: "error", ConversationID: cmd.ConversationID, Error: sendErrorText(err)})
		}
	default:
		_ = cl.send(models.SyncEvent{Type: "error", Error: "unknown command type"})
	}
}

// sendTargetsActive reports whether a send tagged with a conversation
// id targets the active conversation. An untagged send goes to whatever
// is active; a tagged send for anything else is rejected rather than
// silently posted to the wrong conversation.
func sendTargetsActive(ctrl *session.Controller, conversationID string) bool {
	if conversationID == "" {
		return true
	}
	active, ok := ctrl.Active()
	return ok && active == conversationID
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, blocking.ErrBlocked):
		return "you cannot message a blocked user"
	case errors.Is(err, stream.ErrEmptyMessage), errors.Is(err, stream.ErrConflictingContent):
		return err.Error()
	case errors.Is(err, session.ErrNoActiveConversation):
		return "no conversation selected"
	default:
		return "failed to send message"
	}
}

func (h *SessionHandler) validateToken(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.tokens.Validate(parts[1])
	}
	return "", auth.ErrInvalidToken
}

func publishSessionEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
