package peer_events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/cache"
	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Swarmtrace/internal/event_bus"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"go.uber.org/zap"
)

const timeout = 10 * time.Second
const DefaultHistorySize = 100

type PeerEventsQueryService interface {
	// Recent returns the newest entries of a peer held in memory, oldest first.
	Recent(peerId string) ([]model.LogEntry, error)
	// History searches the Elasticsearch mirror, newest first.
	History(ctx context.Context, peerId string, size int) ([]model.LogEntry, error)
	// Count returns how many entries of a peer the Elasticsearch mirror holds.
	Count(ctx context.Context, peerId string) (int64, error)
}

type PeerEventsService struct {
	recent cache.RecentEventsCache[model.LogEntry]
	tc     client.TraceClient
	logger *zap.Logger
}

// NewPeerEventsService builds the service; tc may be nil when no Elasticsearch mirror is configured.
func NewPeerEventsService(
	recent cache.RecentEventsCache[model.LogEntry],
	tc client.TraceClient,
	logger *zap.Logger,
) *PeerEventsService {
	return &PeerEventsService{
		recent: recent,
		tc:     tc,
		logger: logger,
	}
}

// Subscribe keeps the recent events cache filled from the entries the tracer server persists.
func (pes *PeerEventsService) Subscribe(entries event_bus.TraceEventBus[model.LogEntry]) error {
	err := entries.Subscribe(event_bus.LogEntryTopic, func(entry model.LogEntry) error {
		if entry.PeerId == "" {
			return nil
		}
		return pes.recent.Put(entry.PeerId, []model.LogEntry{entry})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe recent events cache: %w", err)
	}
	return nil
}

func (pes *PeerEventsService) Recent(peerId string) ([]model.LogEntry, error) {
	entries, err := pes.recent.Get(peerId)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, ErrPeerNotFound
		}
		return nil, fmt.Errorf("failed to get recent events of peer %s: %w", peerId, err)
	}
	return entries, nil
}

func (pes *PeerEventsService) History(ctx context.Context, peerId string, size int) ([]model.LogEntry, error) {
	if pes.tc == nil {
		return nil, ErrHistoryUnavailable
	}
	if size <= 0 {
		size = DefaultHistorySize
	}
	queryJson, err := json.Marshal(getPeerHistoryQuery(peerId))
	if err != nil {
		pes.logger.Error("Error when marshalling query to JSON", zap.Error(err))
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := pes.tc.Search(queryCtx, string(queryJson), []string{bootstrapper.TraceEventIndexName}, &size)
	if err != nil {
		pes.logger.Error("Error when searching for peer history", zap.String("peer_id", peerId), zap.Error(err))
		return nil, err
	}
	entries, err := convertDocumentsToLogEntries(res)
	if err != nil {
		pes.logger.Error("Error when converting search result to log entries", zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (pes *PeerEventsService) Count(ctx context.Context, peerId string) (int64, error) {
	if pes.tc == nil {
		return 0, ErrHistoryUnavailable
	}
	queryJson, err := json.Marshal(getPeerCountQuery(peerId))
	if err != nil {
		pes.logger.Error("Error when marshalling query to JSON", zap.Error(err))
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	count, err := pes.tc.Count(queryCtx, string(queryJson), []string{bootstrapper.TraceEventIndexName})
	if err != nil {
		pes.logger.Error("Error when counting peer history", zap.String("peer_id", peerId), zap.Error(err))
		return 0, err
	}
	return count, nil
}

func convertDocumentsToLogEntries(docs []map[string]interface{}) ([]model.LogEntry, error) {
	entries := make([]model.LogEntry, len(docs))
	for i, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document: %w", err)
		}
		if err := json.Unmarshal(data, &entries[i]); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document into log entry: %w", err)
		}
	}
	return entries, nil
}

var (
	ErrPeerNotFound       = errors.New("no recent events for peer")
	ErrHistoryUnavailable = errors.New("no search backend configured")
)
