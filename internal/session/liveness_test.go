package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessEvictionAfterMissedBeats(t *testing.T) {
	s := newLivenessState(3, 5)

	// tick 1 issues the first probe; nothing is outstanding yet
	probe, terminate := s.tick()
	require.True(t, probe)
	require.False(t, terminate)

	// ticks 2 and 3 each find the prior probe unacknowledged
	for i := 0; i < 2; i++ {
		probe, terminate = s.tick()
		require.True(t, probe, "tick %d", i+2)
		require.False(t, terminate, "tick %d", i+2)
	}

	// tick 4 records the third consecutive miss and terminates
	probe, terminate = s.tick()
	assert.False(t, probe)
	assert.True(t, terminate)
	assert.Equal(t, 3, s.missedBeats)
}

func TestLivenessAckKeepsConnectionAlive(t *testing.T) {
	s := newLivenessState(3, 5)

	for i := 0; i < 100; i++ {
		probe, terminate := s.tick()
		require.True(t, probe, "tick %d", i)
		require.False(t, terminate, "tick %d", i)
		s.ack()
	}
	assert.Zero(t, s.missedBeats)
	assert.Zero(t, s.reconnectAttempts)
}

func TestLivenessProbeCeiling(t *testing.T) {
	// missed-beat tier effectively disabled; probe issuance tier trips
	s := newLivenessState(100, 2)

	probe, terminate := s.tick()
	require.True(t, probe)
	require.False(t, terminate)

	probe, terminate = s.tick()
	assert.False(t, probe)
	assert.True(t, terminate)
	assert.Equal(t, 2, s.reconnectAttempts)
}

func TestLivenessAckResetsBothTiers(t *testing.T) {
	s := newLivenessState(5, 10)

	s.tick()
	s.tick()
	s.tick()
	require.Positive(t, s.missedBeats)
	require.Positive(t, s.reconnectAttempts)

	s.ack()
	assert.Zero(t, s.missedBeats)
	assert.Zero(t, s.reconnectAttempts)
	assert.False(t, s.awaitingAck)
}

func TestMonitorHaltIsIdempotent(t *testing.T) {
	m := newMonitor(3, 5)
	m.halt()
	m.halt() // second halt must not panic

	select {
	case <-m.stop:
	default:
		t.Fatal("expected stop channel to be closed after halt")
	}
}
