package state

import (
	"time"

	"github.com/google/uuid"
)

// Link is the transport-layer surface the core is allowed to touch. The
// gateway supplies already-established links; the core only forwards
// bytes, checks liveness and requests closure.
type Link interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
	Alive() bool
}

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Link
	// Username is the display name announced via join-room. Empty until
	// the connection joins; not validated and not guaranteed unique.
	Username  string
	CreatedAt time.Time
}

// Room is a named set of connections sharing presence visibility.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Connection
}
