package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Avi18971911/Swarmtrace/internal/db/log_sink"
	"github.com/Avi18971911/Swarmtrace/internal/event_bus"
	"github.com/Avi18971911/Swarmtrace/internal/metrics"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_server/session"
	"github.com/Avi18971911/Swarmtrace/internal/transport"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/encoding"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type TracerServer interface {
	// Serve accepts connections until ctx is done or the listener is closed.
	Serve(ctx context.Context, listener transport.Listener) error
	Close() error
}

type TracerServerImpl struct {
	sessions   session.SessionStore
	sink       log_sink.LogSink
	entries    event_bus.TraceEventBus[model.LogEntry]
	restarts   event_bus.TraceEventBus[string]
	clock      clock.Clock
	logger     *zap.Logger
	userCount  atomic.Int64
	mu         sync.Mutex
	streams    map[transport.Stream]struct{}
	closed     bool
	handlersWg sync.WaitGroup
}

func NewTracerServerImpl(
	sessions session.SessionStore,
	sink log_sink.LogSink,
	entries event_bus.TraceEventBus[model.LogEntry],
	restarts event_bus.TraceEventBus[string],
	clk clock.Clock,
	logger *zap.Logger,
) *TracerServerImpl {
	return &TracerServerImpl{
		sessions: sessions,
		sink:     sink,
		entries:  entries,
		restarts: restarts,
		clock:    clk,
		logger:   logger,
		streams:  make(map[transport.Stream]struct{}),
	}
}

func (ts *TracerServerImpl) Serve(ctx context.Context, listener transport.Listener) error {
	ts.logger.Info("Tracer server accepting connections")
	for {
		stream, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			ts.logger.Warn("Failed to accept connection", zap.Error(err))
			continue
		}
		if !ts.track(stream) {
			_ = stream.Close()
			return nil
		}
		ts.handlersWg.Add(1)
		go func() {
			defer ts.handlersWg.Done()
			defer ts.untrack(stream)
			ts.handleConnection(ctx, stream)
		}()
	}
}

// Close disconnects every client and waits for their handlers to finish.
func (ts *TracerServerImpl) Close() error {
	ts.mu.Lock()
	ts.closed = true
	streams := make([]transport.Stream, 0, len(ts.streams))
	for stream := range ts.streams {
		streams = append(streams, stream)
	}
	ts.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Close()
	}
	ts.handlersWg.Wait()
	return nil
}

func (ts *TracerServerImpl) track(stream transport.Stream) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return false
	}
	ts.streams[stream] = struct{}{}
	return true
}

func (ts *TracerServerImpl) untrack(stream transport.Stream) {
	ts.mu.Lock()
	delete(ts.streams, stream)
	ts.mu.Unlock()
}

func (ts *TracerServerImpl) handleConnection(ctx context.Context, stream transport.Stream) {
	defer stream.Close()
	peerId := transport.RemoteId(stream)
	generatedUserId := fmt.Sprintf("User-%d", ts.userCount.Add(1))
	logger := ts.logger.With(zap.String("peer_id", peerId))
	logger.Info("Got connection", zap.String("peer", shortPeerId(peerId)))

	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	s := ts.sessions.Connect(peerId, ts.clock.Now().UTC())
	defer ts.sessions.Disconnect(peerId)

	handshake, err := encoding.EncodeHandshake(s.Handshake())
	if err != nil {
		logger.Error("Failed to encode handshake", zap.Error(err))
		return
	}
	if err := stream.WriteMessage(handshake); err != nil {
		ts.socketError(ctx, peerId, err)
		return
	}
	stream.SetKeepAlive(transport.DefaultKeepAlive)

	for {
		data, err := stream.ReadMessage()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				logger.Info("Connection closed")
			} else {
				ts.socketError(ctx, peerId, err)
			}
			return
		}
		event, err := encoding.DecodeEvent(data)
		if err != nil {
			logger.Warn("Skipping malformed trace event", zap.Error(err))
			continue
		}
		if err := ts.handleEvent(ctx, peerId, generatedUserId, event); err != nil {
			logger.Error("Failed to persist trace event",
				zap.Uint64("trace_number", event.TraceNumber),
				zap.Error(err),
			)
		}
	}
}

func (ts *TracerServerImpl) handleEvent(
	ctx context.Context,
	peerId string,
	generatedUserId string,
	event model.TraceEvent,
) error {
	userId := DeriveUserId(event.Props, generatedUserId, peerId)
	eventId := event.Id
	if eventId == "" {
		eventId = "none"
	}
	metrics.EventsReceived.WithLabelValues(eventId).Inc()

	var err error
	d := ts.sessions.Observe(peerId, userId, event.TraceSessionId, event.TraceNumber)
	switch d.Kind {
	case session.NewSession:
		err = ts.note(ctx, peerId, userId, "new_session", model.InfoLevel,
			fmt.Sprintf("New session from %s. sessionId=%s", peerId, event.TraceSessionId))
		if d.Restart {
			if err := ts.restarts.Publish(event_bus.PeerRestartTopic, peerId); err != nil {
				ts.logger.Error("Failed to publish peer restart", zap.String("peer_id", peerId), zap.Error(err))
			}
		}
	case session.Gap:
		metrics.SkippedMessages.Add(float64(d.Skipped))
		err = ts.note(ctx, peerId, userId, "skipped", model.WarnLevel,
			fmt.Sprintf("Skipped %d messages! lastSeenTraceNumber=%d traceNumber=%d",
				d.Skipped, d.LastSeenTraceNumber, d.TraceNumber))
	case session.OutOfOrder:
		err = ts.note(ctx, peerId, userId, "out_of_order", model.WarnLevel,
			fmt.Sprintf("Received out-of-order message! lastSeenTraceNumber=%d traceNumber=%d",
				d.LastSeenTraceNumber, d.TraceNumber))
	}

	entry := model.LogEntry{
		Time:       ts.clock.Now().UTC(),
		UserId:     userId,
		PeerId:     peerId,
		TraceEvent: &event,
	}
	ts.logger.Debug("Trace event",
		zap.String("user_id", userId),
		zap.Uint64("trace_number", event.TraceNumber),
		zap.String("event_id", event.Id),
		zap.String("class_name", event.Object.ClassName),
		zap.String("function_name", event.Caller.FunctionName),
	)
	return multierr.Append(err, ts.persist(ctx, entry))
}

func (ts *TracerServerImpl) note(
	ctx context.Context,
	peerId string,
	userId string,
	kind string,
	level model.NoteLevel,
	note string,
) error {
	metrics.NotesWritten.WithLabelValues(kind).Inc()
	fields := []zap.Field{zap.String("peer_id", peerId), zap.String("user_id", userId), zap.String("note", note)}
	if level == model.InfoLevel {
		ts.logger.Info("Session note", fields...)
	} else {
		ts.logger.Warn("Session note", fields...)
	}
	return ts.persist(ctx, model.LogEntry{
		Time:   ts.clock.Now().UTC(),
		PeerId: peerId,
		Note:   note,
		Level:  level,
	})
}

func (ts *TracerServerImpl) socketError(ctx context.Context, peerId string, err error) {
	info := encoding.ErrorInfoOf(err)
	noteErr := ts.note(ctx, peerId, "", "socket_error", model.ErrorLevel,
		fmt.Sprintf("Socket error. code=%s message=%s", info.Code, info.Message))
	if noteErr != nil {
		ts.logger.Error("Failed to persist socket error note", zap.String("peer_id", peerId), zap.Error(noteErr))
	}
}

// persist writes to the sink first and publishes second. The entry is published even when the sink
// fails so the graph stays current; the sink error is returned.
func (ts *TracerServerImpl) persist(ctx context.Context, entry model.LogEntry) error {
	sinkErr := ts.sink.Write(ctx, entry)
	if err := ts.entries.Publish(event_bus.LogEntryTopic, entry); err != nil {
		ts.logger.Error("Failed to publish log entry", zap.String("peer_id", entry.PeerId), zap.Error(err))
	}
	if sinkErr != nil {
		return fmt.Errorf("failed to write log entry of peer %s: %w", entry.PeerId, sinkErr)
	}
	return nil
}
