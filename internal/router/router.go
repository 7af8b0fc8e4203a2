package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// EventRouter decodes inbound envelopes and dispatches them to the session
// layer. Malformed envelopes are logged and dropped here; they never reach
// the session handlers.
type EventRouter struct {
	logger  *slog.Logger
	session SessionHandler
}

func NewEventRouter(logger *slog.Logger, session SessionHandler) *EventRouter {
	return &EventRouter{
		logger:  logger.With(slog.String("component", "event_router")),
		session: session,
	}
}

func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", "connID", connID, "error", err)
		return
	}

	switch clientMsg.Event {
	case EventJoinRoom:
		username := joinUsername(clientMsg.Payload)
		if username == "" {
			r.logger.Warn("join-room without username", "connID", connID)
			return
		}
		r.session.HandleJoin(connID, username)

	case EventVoiceSignal, EventScreenSignal:
		payload := gjson.ParseBytes(clientMsg.Payload)
		to := payload.Get("to").String()
		if to == "" {
			r.logger.Warn("signal without destination", "event", clientMsg.Event, "connID", connID)
			return
		}
		signal := []byte(payload.Get("signal").Raw)
		if len(signal) == 0 {
			signal = []byte("null")
		}
		signalType := payload.Get("type").String()
		r.session.HandleSignal(connID, clientMsg.Event, to, signalType, signal)

	case EventPong:
		// correlation token, if echoed, is ignored
		r.session.HandlePong(connID)

	default:
		r.logger.Warn("Received unknown event", "event", clientMsg.Event, "connID", connID)
	}
}

// joinUsername accepts both payload shapes clients send: a bare JSON
// string or an object with a username field.
func joinUsername(payload []byte) string {
	parsed := gjson.ParseBytes(payload)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	return parsed.Get("username").String()
}
