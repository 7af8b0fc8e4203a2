package session

import (
	"encoding/json"
	"fmt"
)

// Outbound event names. Inbound counterparts live in the event router.
const (
	EventRoomUsers    = "room-users"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventVoiceSignal  = "voice-signal"
	EventScreenSignal = "screen-signal"
	EventVoiceError   = "voice-error"
	EventPing         = "ping"
)

// Envelope is the wire shape of every event in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type userPayload struct {
	Username string `json:"username"`
}

type signalPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
	Type   string          `json:"type,omitempty"`
}

type signalErrorPayload struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

const errUserNotConnected = "user-not-connected"

func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return msg, nil
}
