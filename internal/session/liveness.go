package session

import (
	"sync"
	"time"
)

// livenessState is the per-connection heartbeat state machine, advanced by
// discrete tick and ack events. It is reified as a plain struct (no
// captured timer closures) so the eviction rules are unit-testable without
// real time.
//
// Two independent tiers terminate a connection:
//   - reconnectAttempts: probes issued since the last ack of any kind;
//     crossing maxProbes means connectivity is likely dead.
//   - missedBeats: consecutive probes that went unacknowledged before the
//     next tick; crossing maxMissedBeats means the peer is degraded past
//     recovery.
type livenessState struct {
	missedBeats       int
	reconnectAttempts int
	awaitingAck       bool

	maxMissedBeats int
	maxProbes      int
}

func newLivenessState(maxMissedBeats, maxProbes int) *livenessState {
	return &livenessState{
		maxMissedBeats: maxMissedBeats,
		maxProbes:      maxProbes,
	}
}

// tick advances the state machine by one heartbeat interval. It reports
// whether a probe should be sent, or whether the connection must be
// terminated. A terminated connection receives no further probes.
func (s *livenessState) tick() (probe bool, terminate bool) {
	if s.awaitingAck {
		s.missedBeats++
	}
	if s.missedBeats >= s.maxMissedBeats {
		return false, true
	}
	s.reconnectAttempts++
	if s.reconnectAttempts >= s.maxProbes {
		return false, true
	}
	s.awaitingAck = true
	return true, false
}

// ack resets both tiers. Any pong counts; correlation tokens are accepted
// but not matched against outstanding probes.
func (s *livenessState) ack() {
	s.missedBeats = 0
	s.reconnectAttempts = 0
	s.awaitingAck = false
}

// monitor couples a liveness state machine to its timer goroutine.
type monitor struct {
	state    *livenessState
	stop     chan struct{}
	stopOnce sync.Once
}

func newMonitor(maxMissedBeats, maxProbes int) *monitor {
	return &monitor{
		state: newLivenessState(maxMissedBeats, maxProbes),
		stop:  make(chan struct{}),
	}
}

func (m *monitor) halt() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// run drives ticks until the monitor is halted. The tick callback owns all
// state; a tick arriving after halt is a no-op because the controller has
// already dropped this monitor.
func (m *monitor) run(interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			tick()
		}
	}
}
