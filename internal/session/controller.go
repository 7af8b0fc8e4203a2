package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ysntopbas/KozVer-backend/pkg/config"
	"github.com/ysntopbas/KozVer-backend/pkg/state"
)

var errLivenessExpired = errors.New("liveness thresholds exceeded")

// Controller orchestrates the session lifecycle: it is the single owner of
// presence, room membership and liveness state. Every inbound event (join,
// signal, pong, disconnect, heartbeat tick) is serialized through one
// mutex, so no two events for any connection are processed concurrently.
// Transport sends and closes happen only after the mutex is released —
// closing a link re-enters the controller through the gateway's close
// callback.
type Controller struct {
	logger *slog.Logger
	state  state.Manager
	cfg    config.LivenessConfig
	room   string

	mu       sync.Mutex
	monitors map[uuid.UUID]*monitor

	// clock for probe correlation tokens, swapped in tests
	now func() time.Time
}

func NewController(logger *slog.Logger, stateManager state.Manager, cfg config.LivenessConfig, defaultRoom string) *Controller {
	return &Controller{
		logger:   logger.With(slog.String("component", "session_controller")),
		state:    stateManager,
		cfg:      cfg,
		room:     defaultRoom,
		monitors: make(map[uuid.UUID]*monitor),
		now:      time.Now,
	}
}

// HandleJoin moves a connection from Connected to Joined: presence entry,
// default room membership, heartbeat monitor, then a full roster broadcast
// to everyone and a discrete join notice to everyone else.
func (c *Controller) HandleJoin(connID uuid.UUID, username string) {
	c.mu.Lock()
	if _, ok := c.state.GetConnection(connID); !ok {
		c.mu.Unlock()
		c.logger.Warn("join-room for unknown connection", slog.String("connID", connID.String()))
		return
	}
	if err := c.state.RegisterUsername(connID, username); err != nil {
		c.mu.Unlock()
		c.logger.Error("Failed to register username", slog.Any("error", err))
		return
	}
	if err := c.state.JoinRoom(c.room, connID); err != nil {
		c.mu.Unlock()
		c.logger.Error("Failed to join default room", slog.Any("error", err))
		return
	}
	c.startMonitorLocked(connID)
	roster := c.state.Usernames()
	audience := c.state.AllConnections()
	c.mu.Unlock()

	c.logger.Info("User joined", slog.String("connID", connID.String()), slog.String("username", username))
	c.broadcastRoster(roster, audience)
	c.notifyOthers(EventUserJoined, username, connID, audience)
}

// HandleSignal resolves the destination username and forwards the payload
// untouched. Voice and screen signals share one routing path; only the
// event name differs. Unresolvable or dead targets are reported back to
// the sender as a voice-error, never as a dropped message.
func (c *Controller) HandleSignal(connID uuid.UUID, event, to, signalType string, signal []byte) {
	c.mu.Lock()
	sender, ok := c.state.GetConnection(connID)
	if !ok {
		c.mu.Unlock()
		return
	}
	from, _ := c.state.UsernameOf(connID)
	target, found := c.state.ResolveUsername(to)
	c.mu.Unlock()

	if !found || !target.Transport.Alive() {
		c.logger.Debug("Signal target not connected", slog.String("target", to), slog.String("from", from))
		msg, err := encodeEvent(EventVoiceError, signalErrorPayload{Target: to, Error: errUserNotConnected})
		if err != nil {
			c.logger.Error("Failed to encode signal error", slog.Any("error", err))
			return
		}
		sender.Transport.Send(msg)
		return
	}

	msg, err := encodeEvent(event, signalPayload{From: from, Signal: signal, Type: signalType})
	if err != nil {
		c.logger.Error("Failed to encode signal", slog.Any("error", err))
		return
	}
	target.Transport.Send(msg)
}

// HandlePong resets the liveness counters for a connection. The token the
// client echoes back is not matched; any pong proves the link responsive.
func (c *Controller) HandlePong(connID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.monitors[connID]
	if !ok {
		// pong before join, or after the monitor was torn down
		return
	}
	m.state.ack()
}

// HandleDisconnect runs the Closed transition. It is the single cleanup
// path for voluntary and forced disconnects and is idempotent: a second
// invocation for the same connection finds no presence entry and produces
// no broadcast.
func (c *Controller) HandleDisconnect(connID uuid.UUID) {
	c.mu.Lock()
	c.stopMonitorLocked(connID)
	username, hadName := c.state.UnregisterUsername(connID)
	c.state.RemoveEverywhere(connID)
	if err := c.state.DeregisterConnection(connID); err != nil {
		c.logger.Error("Failed to deregister connection", slog.Any("error", err))
	}
	var roster []string
	var audience []*state.Connection
	if hadName {
		roster = c.state.Usernames()
		audience = c.state.AllConnections()
	}
	c.mu.Unlock()

	if !hadName {
		// never joined, nothing was announced so nothing to retract
		return
	}
	c.logger.Info("User left", slog.String("connID", connID.String()), slog.String("username", username))
	c.broadcastRoster(roster, audience)
	c.notifyOthers(EventUserLeft, username, connID, audience)
}

// handleTick advances one connection's heartbeat. A tick that fires after
// the monitor was stopped finds no entry and does nothing.
func (c *Controller) handleTick(connID uuid.UUID) {
	c.mu.Lock()
	m, ok := c.monitors[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	conn, ok := c.state.GetConnection(connID)
	if !ok {
		c.stopMonitorLocked(connID)
		c.mu.Unlock()
		return
	}

	probe, terminate := m.state.tick()
	if terminate {
		c.stopMonitorLocked(connID)
		c.mu.Unlock()
		c.logger.Info("Connection unresponsive, forcing disconnect",
			slog.String("connID", connID.String()),
			slog.Int("missedBeats", m.state.missedBeats),
			slog.Int("reconnectAttempts", m.state.reconnectAttempts),
		)
		// runs the same Closed transition as a voluntary disconnect via
		// the transport close callback
		conn.Transport.Close(errLivenessExpired)
		return
	}
	var msg []byte
	if probe {
		var err error
		msg, err = encodeEvent(EventPing, c.now().UnixMilli())
		if err != nil {
			c.logger.Error("Failed to encode ping", slog.Any("error", err))
		}
	}
	c.mu.Unlock()

	if msg != nil {
		conn.Transport.Send(msg)
	}
}

// startMonitorLocked starts heartbeat monitoring for a connection,
// cancelling any prior monitor first so a re-join never leaves two timers
// running.
func (c *Controller) startMonitorLocked(connID uuid.UUID) {
	if prev, ok := c.monitors[connID]; ok {
		prev.halt()
	}
	m := newMonitor(c.cfg.MaxMissedBeats, c.cfg.MaxProbes)
	c.monitors[connID] = m
	go m.run(c.cfg.Interval, func() { c.handleTick(connID) })
}

func (c *Controller) stopMonitorLocked(connID uuid.UUID) {
	if m, ok := c.monitors[connID]; ok {
		m.halt()
		delete(c.monitors, connID)
	}
}

func (c *Controller) broadcastRoster(roster []string, audience []*state.Connection) {
	msg, err := encodeEvent(EventRoomUsers, roster)
	if err != nil {
		c.logger.Error("Failed to encode roster", slog.Any("error", err))
		return
	}
	for _, conn := range audience {
		conn.Transport.Send(msg)
	}
}

func (c *Controller) notifyOthers(event, username string, origin uuid.UUID, audience []*state.Connection) {
	msg, err := encodeEvent(event, userPayload{Username: username})
	if err != nil {
		c.logger.Error("Failed to encode notification", slog.Any("error", err))
		return
	}
	for _, conn := range audience {
		if conn.ID == origin {
			continue
		}
		conn.Transport.Send(msg)
	}
}
