package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ysntopbas/KozVer-backend/pkg/state"
)

// InMemoryManager holds all presence and membership state for a single
// process. Nothing survives a restart by design.
type InMemoryManager struct {
	conns map[uuid.UUID]*state.Connection
	rooms map[string]*state.Room
	// presence keeps registration order so roster broadcasts and
	// duplicate-name resolution are deterministic; Go map iteration is not.
	presence []uuid.UUID

	mu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(link state.Link, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := link.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: link,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[connID]; !ok {
		// connection is already deregistered
		return nil
	}
	delete(m.conns, connID)
	m.dropPresenceLocked(connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) AllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) GetIPConnectionCount(ipAddr string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.IPAddress == ipAddr {
			count++
		}
	}
	return count, nil
}

func (m *InMemoryManager) FindOldestIPConnection(ipAddr string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, c := range m.conns {
		if c.IPAddress != ipAddr {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

// --- Presence Registry ---

func (m *InMemoryManager) RegisterUsername(connID uuid.UUID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot register username for unknown connection")
	}

	if conn.Username == "" {
		m.presence = append(m.presence, connID)
	}
	// re-join overwrites the prior name but keeps the original slot
	conn.Username = username
	m.logger.Debug("Username registered", slog.String("connID", connID.String()), slog.String("username", username))
	return nil
}

func (m *InMemoryManager) UnregisterUsername(connID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok || conn.Username == "" {
		return "", false
	}
	username := conn.Username
	conn.Username = ""
	m.dropPresenceLocked(connID)
	m.logger.Debug("Username unregistered", slog.String("connID", connID.String()), slog.String("username", username))
	return username, true
}

func (m *InMemoryManager) ResolveUsername(username string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// linear scan in registration order; with duplicate names the
	// earliest registration wins
	for _, id := range m.presence {
		if conn, ok := m.conns[id]; ok && conn.Username == username {
			return conn, true
		}
	}
	return nil, false
}

func (m *InMemoryManager) UsernameOf(connID uuid.UUID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.Username == "" {
		return "", false
	}
	return conn.Username, true
}

func (m *InMemoryManager) Usernames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.presence))
	for _, id := range m.presence {
		if conn, ok := m.conns[id]; ok && conn.Username != "" {
			names = append(names, conn.Username)
		}
	}
	return names
}

func (m *InMemoryManager) dropPresenceLocked(connID uuid.UUID) {
	for i, id := range m.presence {
		if id == connID {
			m.presence = append(m.presence[:i], m.presence[i+1:]...)
			return
		}
	}
}

// --- Room & Membership Management ---

func (m *InMemoryManager) JoinRoom(roomID string, connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot join room: connection not found")
	}

	room, exists := m.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:      roomID,
			Members: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[roomID] = room
	}

	room.Members[connID] = conn
	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return nil
}

func (m *InMemoryManager) LeaveRoom(roomID string, connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil // Room doesn't exist, nothing to leave.
	}

	delete(room.Members, connID)
	m.removeRoomIfEmptyLocked(room)
	m.logger.Debug("Connection left room", slog.String("connID", connID.String()), slog.String("roomID", roomID))
	return nil
}

func (m *InMemoryManager) RemoveEverywhere(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range m.rooms {
		delete(room.Members, connID)
		m.removeRoomIfEmptyLocked(room)
	}
}

func (m *InMemoryManager) RoomMembers(roomID string) ([]*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, errors.New("room not found")
	}

	members := make([]*state.Connection, 0, len(room.Members))
	for _, c := range room.Members {
		members = append(members, c)
	}
	return members, nil
}

func (m *InMemoryManager) FindRoom(roomID string) (*state.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// For memory hygiene, rooms disappear with their last member.
func (m *InMemoryManager) removeRoomIfEmptyLocked(room *state.Room) {
	if len(room.Members) == 0 {
		delete(m.rooms, room.ID)
		m.logger.Debug("Removed empty room", slog.String("roomID", room.ID))
	}
}

// --- Introspection ---

func (m *InMemoryManager) Stats() (connections, rooms, registered int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns), len(m.rooms), len(m.presence)
}
