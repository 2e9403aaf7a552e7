package ws

import (
	"time"

	"github.com/google/uuid"
)

// newConnID tags one websocket connection for session events and logs.
func newConnID() string {
	return uuid.NewString()
}

type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
