package state

import (
	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(link Link, ipAddr string) (*Connection, error)
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	AllConnections() []*Connection
	GetIPConnectionCount(ipAddr string) (int, error)
	FindOldestIPConnection(ipAddr string) (*Connection, bool)

	// --- Presence Registry ---
	// RegisterUsername records the display name for a connection,
	// overwriting any prior name. Duplicate names across connections are
	// allowed; ResolveUsername returns the earliest registration.
	RegisterUsername(connID uuid.UUID, username string) error
	UnregisterUsername(connID uuid.UUID) (string, bool)
	ResolveUsername(username string) (*Connection, bool)
	UsernameOf(connID uuid.UUID) (string, bool)
	// Usernames returns the roster snapshot in registration order.
	Usernames() []string

	// --- Room & Membership Management ---
	// JoinRoom adds a connection to a room, creating the room if it
	// doesn't exist.
	JoinRoom(roomID string, connID uuid.UUID) error
	LeaveRoom(roomID string, connID uuid.UUID) error
	// RemoveEverywhere drops the connection from every room it belongs to.
	RemoveEverywhere(connID uuid.UUID)
	RoomMembers(roomID string) ([]*Connection, error)
	FindRoom(roomID string) (*Room, bool)

	// --- Introspection ---
	Stats() (connections, rooms, registered int)
}
