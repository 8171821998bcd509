package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStoreImpl_Observe(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should hand out a null handshake before any event is observed", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		s := ss.Connect("peer", now)
		handshake := s.Handshake()
		assert.Nil(t, handshake.LastSeenTraceSessionId)
		assert.Nil(t, handshake.LastSeenTraceNumber)
		assert.True(t, s.Connected)
	})

	t.Run("should report a single gap of two for numbers 0 1 2 5", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Connect("peer", now)
		var kinds []DiscontinuityKind
		var gaps []Discontinuity
		for _, n := range []uint64{0, 1, 2, 5} {
			d := ss.Observe("peer", "alice", "session-a", n)
			kinds = append(kinds, d.Kind)
			if d.Kind == Gap {
				gaps = append(gaps, d)
			}
		}
		assert.Equal(t, []DiscontinuityKind{NewSession, Continuous, Continuous, Gap}, kinds)
		assert.Len(t, gaps, 1)
		assert.Equal(t, uint64(2), gaps[0].Skipped)
		assert.Equal(t, uint64(2), gaps[0].LastSeenTraceNumber)
		assert.Equal(t, uint64(5), gaps[0].TraceNumber)
	})

	t.Run("should flag a restart when a known peer starts a different session", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		first := ss.Observe("peer", "alice", "session-a", 0)
		assert.Equal(t, NewSession, first.Kind)
		assert.False(t, first.Restart)

		second := ss.Observe("peer", "alice", "session-b", 0)
		assert.Equal(t, NewSession, second.Kind)
		assert.True(t, second.Restart)

		s, ok := ss.Get("peer")
		assert.True(t, ok)
		assert.Equal(t, "session-b", *s.LastSeenTraceSessionId)
		assert.Equal(t, 2, s.Sessions)
	})

	t.Run("should report out of order numbers and still move the cursor", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Observe("peer", "alice", "session-a", 4)
		d := ss.Observe("peer", "alice", "session-a", 4)
		assert.Equal(t, OutOfOrder, d.Kind)

		d = ss.Observe("peer", "alice", "session-a", 2)
		assert.Equal(t, OutOfOrder, d.Kind)
		s, _ := ss.Get("peer")
		assert.Equal(t, uint64(2), *s.LastSeenTraceNumber)
	})

	t.Run("should keep the cursor across disconnects", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Connect("peer", now)
		ss.Observe("peer", "alice", "session-a", 7)
		ss.Disconnect("peer")

		s := ss.Connect("peer", now.Add(time.Minute))
		assert.Equal(t, "session-a", *s.Handshake().LastSeenTraceSessionId)
		assert.Equal(t, uint64(7), *s.Handshake().LastSeenTraceNumber)
	})

	t.Run("should stay connected while a newer connection of the same peer is open", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Connect("peer", now)
		ss.Connect("peer", now.Add(time.Second))
		ss.Disconnect("peer")

		s, _ := ss.Get("peer")
		assert.True(t, s.Connected)
		assert.Equal(t, 1, s.Connections)

		ss.Disconnect("peer")
		s, _ = ss.Get("peer")
		assert.False(t, s.Connected)
		assert.Equal(t, 0, s.Connections)

		ss.Disconnect("peer")
		s, _ = ss.Get("peer")
		assert.Equal(t, 0, s.Connections)
	})

	t.Run("should return snapshots that do not alias the store", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Observe("peer", "alice", "session-a", 1)
		s, _ := ss.Get("peer")
		*s.LastSeenTraceNumber = 100

		fresh, _ := ss.Get("peer")
		assert.Equal(t, uint64(1), *fresh.LastSeenTraceNumber)
	})
}

func TestSessionStoreImpl_List(t *testing.T) {
	t.Run("should list sessions ordered by peer id", func(t *testing.T) {
		ss := NewSessionStoreImpl()
		ss.Observe("c", "", "s", 0)
		ss.Observe("a", "", "s", 0)
		ss.Observe("b", "", "s", 0)
		var peers []string
		for _, s := range ss.List() {
			peers = append(peers, s.PeerId)
		}
		assert.Equal(t, []string{"a", "b", "c"}, peers)
	})
}
