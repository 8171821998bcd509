package session

import (
	"sort"
	"sync"
	"time"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

// Session is the server's resume cursor for one peer identity. It survives disconnects.
type Session struct {
	PeerId                 string    `json:"peerId"`
	UserId                 string    `json:"userId,omitempty"`
	LastSeenTraceSessionId *string   `json:"lastSeenTraceSessionId"`
	LastSeenTraceNumber    *uint64   `json:"lastSeenTraceNumber"`
	Connected              bool      `json:"connected"`
	Connections            int       `json:"connections"`
	LastConnectedAt        time.Time `json:"lastConnectedAt"`
	Sessions               int       `json:"sessions"`
}

func (s Session) Handshake() model.Handshake {
	return model.Handshake{
		LastSeenTraceSessionId: s.LastSeenTraceSessionId,
		LastSeenTraceNumber:    s.LastSeenTraceNumber,
	}
}

type SessionStore interface {
	// Connect creates the session on first contact and returns a snapshot for the handshake.
	Connect(peerId string, at time.Time) Session
	// Disconnect ends one connection; the peer stays connected while any other is open.
	Disconnect(peerId string)
	// Observe records an event and reports how it relates to the previous cursor.
	Observe(peerId string, userId string, traceSessionId string, traceNumber uint64) Discontinuity
	Get(peerId string) (Session, bool)
	List() []Session
}

type SessionStoreImpl struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStoreImpl() *SessionStoreImpl {
	return &SessionStoreImpl{
		sessions: make(map[string]*Session),
	}
}

func (ss *SessionStoreImpl) Connect(peerId string, at time.Time) Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[peerId]
	if !ok {
		s = &Session{PeerId: peerId}
		ss.sessions[peerId] = s
	}
	s.Connections++
	s.Connected = true
	s.LastConnectedAt = at
	return copySession(s)
}

func (ss *SessionStoreImpl) Disconnect(peerId string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if s, ok := ss.sessions[peerId]; ok && s.Connections > 0 {
		s.Connections--
		s.Connected = s.Connections > 0
	}
}

func (ss *SessionStoreImpl) Observe(
	peerId string,
	userId string,
	traceSessionId string,
	traceNumber uint64,
) Discontinuity {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[peerId]
	if !ok {
		s = &Session{PeerId: peerId}
		ss.sessions[peerId] = s
	}

	d := Classify(*s, traceSessionId, traceNumber)
	if d.Kind == NewSession {
		s.Sessions++
	}
	sessionId := traceSessionId
	number := traceNumber
	s.LastSeenTraceSessionId = &sessionId
	s.LastSeenTraceNumber = &number
	s.UserId = userId
	return d
}

func (ss *SessionStoreImpl) Get(peerId string) (Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[peerId]
	if !ok {
		return Session{}, false
	}
	return copySession(s), true
}

func (ss *SessionStoreImpl) List() []Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	result := make([]Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		result = append(result, copySession(s))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PeerId < result[j].PeerId
	})
	return result
}

func copySession(s *Session) Session {
	c := *s
	if s.LastSeenTraceSessionId != nil {
		sessionId := *s.LastSeenTraceSessionId
		c.LastSeenTraceSessionId = &sessionId
	}
	if s.LastSeenTraceNumber != nil {
		number := *s.LastSeenTraceNumber
		c.LastSeenTraceNumber = &number
	}
	return c
}
