package service

import (
	"fmt"

	"github.com/Avi18971911/Swarmtrace/internal/event_bus"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

// SubscribeGraphEngine feeds persisted entries into the engine and clears the connections of
// peers that restarted. Both subscriptions are synchronous so the engine sees entries in the
// order each connection persisted them.
func SubscribeGraphEngine(
	engine GraphEngine,
	entries event_bus.TraceEventBus[model.LogEntry],
	restarts event_bus.TraceEventBus[string],
) error {
	err := entries.Subscribe(event_bus.LogEntryTopic, func(entry model.LogEntry) error {
		engine.Add(entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe graph engine to log entries: %w", err)
	}
	err = restarts.Subscribe(event_bus.PeerRestartTopic, func(peerId string) error {
		engine.ClearConnections(peerId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe graph engine to peer restarts: %w", err)
	}
	return nil
}
