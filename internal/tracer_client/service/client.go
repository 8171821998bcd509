package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/capture"
	"github.com/Avi18971911/Swarmtrace/internal/tracer_client/buffer"
	"github.com/Avi18971911/Swarmtrace/internal/transport"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/encoding"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minReconnectDelay = 10000 * time.Millisecond
	maxReconnectDelay = 15000 * time.Millisecond
)

type Options struct {
	Dialer transport.Dialer
	// Hook defaults to capture.Default.
	Hook             *capture.Hook
	IgnoreClassNames []string
	GetInitialProps  func(ctx context.Context) (model.Props, error)
	// CanReconnect is asked after every disconnect; returning false ends the client.
	CanReconnect   func() bool
	KeepAlive      time.Duration
	ReconnectDelay func() time.Duration
	Clock          clock.Clock

	OnOpen            func()
	OnReconnect       func()
	OnClose           func()
	OnConnectionError func(err error)
}

// Client streams captured trace events to a tracer server. Every event is kept in a replay buffer
// so that after a reconnect the server's handshake decides what has to be sent again.
type Client struct {
	logger         *zap.Logger
	traceSessionId string

	mu                  sync.Mutex
	opts                Options
	ignore              map[string]struct{}
	running             bool
	connected           bool
	props               model.Props
	nextTraceNumber     uint64
	buffer              buffer.ReplayBuffer
	live                transport.Stream
	lastConnectionError error
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
	// callbacks counts option callbacks in progress on the connection loop.
	callbacks atomic.Int32
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		logger:         logger,
		traceSessionId: uuid.NewString(),
	}
}

func (c *Client) TraceSessionId() string {
	return c.traceSessionId
}

// Start installs the capture hook and begins connecting in the background. Calling Start on a
// running client only logs a warning.
func (c *Client) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("Cannot start tracing, as tracing is already running")
		return nil
	}
	opts = withDefaults(opts)
	// the hook goes in first so nothing traced from here on is lost
	if err := opts.Hook.Install(c.onTrace); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to install trace hook: %w", err)
	}
	c.opts = opts
	c.ignore = make(map[string]struct{}, len(opts.IgnoreClassNames))
	for _, className := range opts.IgnoreClassNames {
		c.ignore[className] = struct{}{}
	}
	c.buffer = buffer.NewReplayBufferImpl()
	c.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if opts.GetInitialProps != nil {
		props, err := opts.GetInitialProps(ctx)
		if err != nil {
			c.logger.Warn("Failed to get initial props", zap.Error(err))
		} else if props != nil {
			c.AddProps(props)
		}
	}

	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Stop closes the active connection and releases the capture hook. It is safe to call repeatedly.
// Stop waits for the connection loop to exit, except when called from one of the Options
// callbacks, which run on that loop; it then exits once the callback returns.
func (c *Client) Stop() {
	if c.release() && c.callbacks.Load() == 0 {
		c.wg.Wait()
	}
}

func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) LastConnectionError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnectionError
}

// AddProps merges props into the metadata attached to every following event.
func (c *Client) AddProps(props model.Props) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make(model.Props, len(c.props)+len(props))
	for key, value := range c.props {
		merged[key] = value
	}
	for key, value := range props {
		merged[key] = value
	}
	c.props = merged
}

func (c *Client) release() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	c.running = false
	cancel := c.cancel
	live := c.live
	c.live = nil
	hook := c.opts.Hook
	c.mu.Unlock()

	hook.Release()
	cancel()
	if live != nil {
		_ = live.Close()
	}
	return true
}

func (c *Client) onTrace(params capture.Params) {
	if c.shouldIgnore(params) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	traceNumber := c.nextTraceNumber
	event := model.TraceEvent{
		TraceTimestamp: c.opts.Clock.Now().UTC(),
		TraceSessionId: c.traceSessionId,
		TraceNumber:    traceNumber,
		Id:             params.Id,
		Props:          c.props,
		Object:         params.Object,
		Caller:         params.Caller,
	}
	data, err := encoding.EncodeEvent(event)
	if err != nil {
		c.logger.Warn("Error in tracing (error has been suppressed)",
			zap.String("event_id", params.Id),
			zap.String("class_name", params.Object.ClassName),
			zap.Error(err),
		)
		return
	}
	c.nextTraceNumber++

	if evicted := c.buffer.Append(buffer.Entry{TraceNumber: traceNumber, Data: data}); evicted > 0 {
		c.logger.Debug("Evicted oldest buffered trace events", zap.Int("evicted", evicted))
	}
	if c.live == nil {
		return
	}
	if err := c.live.WriteMessage(data); err != nil {
		c.logger.Warn("Failed to write trace event, waiting for reconnect", zap.Error(err))
		_ = c.live.Close()
		c.live = nil
	}
}

func (c *Client) shouldIgnore(params capture.Params) bool {
	if len(c.ignore) == 0 {
		return false
	}
	if _, ok := c.ignore[params.Object.ClassName]; ok {
		return true
	}
	if params.ParentObject != nil {
		if _, ok := c.ignore[params.ParentObject.ClassName]; ok {
			return true
		}
	}
	return false
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		err := c.connectOnce(ctx)
		c.markDisconnected()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, transport.ErrClosed) {
			c.recordConnectionError(err)
			if ctx.Err() != nil {
				return
			}
		}

		if !c.opts.CanReconnect() {
			c.logger.Info("Tracing connection closed and reconnecting is not allowed")
			c.notify(c.opts.OnClose)
			c.release()
			return
		}
		c.notify(c.opts.OnReconnect)
		if ctx.Err() != nil {
			return
		}
		delay := c.opts.ReconnectDelay()
		c.logger.Info("Reconnecting to tracer server", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-c.opts.Clock.After(delay):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	stream, err := c.opts.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to tracer server: %w", err)
	}
	defer stream.Close()
	stopWatch := context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})
	defer stopWatch()

	stream.SetKeepAlive(c.opts.KeepAlive)
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.notify(c.opts.OnOpen)

	data, err := stream.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read handshake: %w", err)
	}
	handshake, err := encoding.DecodeHandshake(data)
	if err != nil {
		return err
	}
	if err := c.replayAndGoLive(stream, handshake); err != nil {
		return err
	}

	// the server sends nothing after the handshake; reading surfaces close and keeps pings flowing
	for {
		if _, err := stream.ReadMessage(); err != nil {
			return err
		}
	}
}

// replayAndGoLive resends what the server has not seen and then makes the stream the write target.
// Both happen under the client lock so no captured event can slip in between.
func (c *Client) replayAndGoLive(stream transport.Stream, handshake model.Handshake) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return transport.ErrClosed
	}

	var entries []buffer.Entry
	if handshake.IsSameSession(c.traceSessionId) && handshake.LastSeenTraceNumber != nil {
		entries = c.buffer.Since(*handshake.LastSeenTraceNumber)
	} else {
		entries = c.buffer.All()
	}
	for _, entry := range entries {
		if err := stream.WriteMessage(entry.Data); err != nil {
			return fmt.Errorf("failed to replay trace event %d: %w", entry.TraceNumber, err)
		}
	}
	c.logger.Info("Connected to tracer server",
		zap.Bool("same_session", handshake.IsSameSession(c.traceSessionId)),
		zap.Int("replayed", len(entries)),
	)
	c.live = stream
	return nil
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.live = nil
	c.mu.Unlock()
}

func (c *Client) recordConnectionError(err error) {
	c.mu.Lock()
	c.lastConnectionError = err
	c.mu.Unlock()
	c.logger.Warn("Tracing connection error", zap.Error(err))
	if c.opts.OnConnectionError != nil {
		c.notify(func() { c.opts.OnConnectionError(err) })
	}
}

func (c *Client) notify(callback func()) {
	if callback == nil {
		return
	}
	c.callbacks.Add(1)
	defer c.callbacks.Add(-1)
	callback()
}

func withDefaults(opts Options) Options {
	if opts.Hook == nil {
		opts.Hook = capture.Default
	}
	if opts.CanReconnect == nil {
		opts.CanReconnect = func() bool { return true }
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = transport.DefaultKeepAlive
	}
	if opts.ReconnectDelay == nil {
		opts.ReconnectDelay = RandomReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return opts
}

// RandomReconnectDelay is drawn uniformly from [10s, 15s).
func RandomReconnectDelay() time.Duration {
	return minReconnectDelay + time.Duration(rand.Int63n(int64(maxReconnectDelay-minReconnectDelay)))
}
