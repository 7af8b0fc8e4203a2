package router

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound event names. The transport-level disconnect has no envelope; it
// reaches the session layer through the gateway's close callback.
const (
	EventJoinRoom     = "join-room"
	EventVoiceSignal  = "voice-signal"
	EventScreenSignal = "screen-signal"
	EventPong         = "pong"
)

// ClientMessage is the inbound wire envelope.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// SessionHandler is what the router needs from the session layer.
type SessionHandler interface {
	HandleJoin(connID uuid.UUID, username string)
	HandleSignal(connID uuid.UUID, event, to, signalType string, signal []byte)
	HandlePong(connID uuid.UUID)
}
