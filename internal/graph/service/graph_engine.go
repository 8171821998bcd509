package service

import (
	"fmt"
	"sync"
	"time"

	graphModel "github.com/Avi18971911/Swarmtrace/internal/graph/model"
	"github.com/Avi18971911/Swarmtrace/internal/metrics"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const TitleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Redrawer receives a fresh diagram after every change to the connection graph.
type Redrawer interface {
	Redraw(diagram graphModel.Diagram, at time.Time)
}

type GraphEngine interface {
	Add(entry model.LogEntry)
	// ClearConnections forgets every public key announced by peerId and every edge touching the
	// users those keys resolved to.
	ClearConnections(peerId string)
	Diagram(title string) graphModel.Diagram
	Users() []string
}

type identity struct {
	userId string
	peerId string
}

type GraphEngineImpl struct {
	mu         sync.Mutex
	identities map[string]identity
	edges      map[string]map[string]int
	redrawer   Redrawer
	clock      clock.Clock
	logger     *zap.Logger
}

func NewGraphEngineImpl(redrawer Redrawer, clk clock.Clock, logger *zap.Logger) *GraphEngineImpl {
	return &GraphEngineImpl{
		identities: make(map[string]identity),
		edges:      make(map[string]map[string]int),
		redrawer:   redrawer,
		clock:      clk,
		logger:     logger,
	}
}

func (ge *GraphEngineImpl) Add(entry model.LogEntry) {
	if entry.IsNote() {
		return
	}
	ge.mu.Lock()
	defer ge.mu.Unlock()

	switch entry.Id {
	case model.ListenEventId:
		publicKey, ok := entry.Caller.ListenPublicKey()
		if !ok {
			ge.logger.Debug("Listen event without a public key", zap.String("user_id", entry.UserId))
			return
		}
		ge.identities[publicKey] = identity{userId: entry.UserId, peerId: entry.PeerId}
	case model.StreamOpenEventId:
		fromUser, toUser, ok := ge.resolve(entry)
		if !ok {
			return
		}
		if ge.edges[fromUser] == nil {
			ge.edges[fromUser] = make(map[string]int)
		}
		ge.edges[fromUser][toUser]++
		ge.logger.Info(fmt.Sprintf("%s (%d conns) => %s (%d conns)",
			fromUser, ge.totalConnections(fromUser), toUser, ge.totalConnections(toUser)),
			zap.Time("time", eventTime(entry)),
		)
		ge.redraw(eventTime(entry))
	case model.StreamCloseEventId:
		fromUser, toUser, ok := ge.resolve(entry)
		if !ok {
			return
		}
		ge.removeEdge(fromUser, toUser)
		reason := entry.Caller.ErrorCode()
		if reason == "" {
			reason = "null"
		}
		ge.logger.Info(fmt.Sprintf("%s (%d conns) x> %s (%d conns), reason=%s",
			fromUser, ge.totalConnections(fromUser), toUser, ge.totalConnections(toUser), reason),
			zap.Time("time", eventTime(entry)),
		)
		ge.redraw(eventTime(entry))
	}
}

func (ge *GraphEngineImpl) ClearConnections(peerId string) {
	ge.mu.Lock()
	defer ge.mu.Unlock()

	users := make(map[string]struct{})
	for publicKey, id := range ge.identities {
		if id.peerId != peerId {
			continue
		}
		users[id.userId] = struct{}{}
		delete(ge.identities, publicKey)
	}
	if len(users) == 0 {
		return
	}

	changed := false
	for from, tos := range ge.edges {
		if _, ok := users[from]; ok {
			delete(ge.edges, from)
			changed = true
			continue
		}
		for to := range tos {
			if _, ok := users[to]; ok {
				delete(tos, to)
				changed = true
			}
		}
		if len(tos) == 0 {
			delete(ge.edges, from)
		}
	}
	ge.logger.Info("Cleared connections of restarted peer",
		zap.String("peer_id", peerId),
		zap.Int("users", len(users)),
	)
	if changed {
		ge.redraw(ge.clock.Now().UTC())
	}
}

func (ge *GraphEngineImpl) Diagram(title string) graphModel.Diagram {
	ge.mu.Lock()
	defer ge.mu.Unlock()
	return BuildDiagram(ge.edges, title)
}

func (ge *GraphEngineImpl) Users() []string {
	ge.mu.Lock()
	defer ge.mu.Unlock()
	return BuildDiagram(ge.edges, "").Users
}

// KnownPublicKeys maps every announced public key to its user id.
func (ge *GraphEngineImpl) KnownPublicKeys() map[string]string {
	ge.mu.Lock()
	defer ge.mu.Unlock()
	result := make(map[string]string, len(ge.identities))
	for publicKey, id := range ge.identities {
		result[publicKey] = id.userId
	}
	return result
}

func (ge *GraphEngineImpl) resolve(entry model.LogEntry) (string, string, bool) {
	publicKey, remotePublicKey, ok := entry.Caller.StreamKeys()
	if !ok {
		return "", "", false
	}
	from, fromOk := ge.identities[publicKey]
	to, toOk := ge.identities[remotePublicKey]
	if !fromOk || !toOk {
		return "", "", false
	}
	return from.userId, to.userId, true
}

func (ge *GraphEngineImpl) removeEdge(fromUser string, toUser string) {
	tos, ok := ge.edges[fromUser]
	if !ok {
		return
	}
	if tos[toUser] > 1 {
		tos[toUser]--
	} else {
		delete(tos, toUser)
	}
	if len(tos) == 0 {
		delete(ge.edges, fromUser)
	}
}

func (ge *GraphEngineImpl) totalConnections(user string) int {
	total := 0
	for _, count := range ge.edges[user] {
		total += count
	}
	return total
}

// redraw runs under ge.mu so diagrams reach the redrawer in the order the graph changed.
func (ge *GraphEngineImpl) redraw(at time.Time) {
	total := 0
	for from := range ge.edges {
		total += ge.totalConnections(from)
	}
	metrics.GraphEdges.Set(float64(total))
	if ge.redrawer == nil {
		return
	}
	ge.redrawer.Redraw(BuildDiagram(ge.edges, at.UTC().Format(TitleTimeFormat)), at)
}

func eventTime(entry model.LogEntry) time.Time {
	if !entry.Time.IsZero() {
		return entry.Time
	}
	return entry.TraceTimestamp
}
