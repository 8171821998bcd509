package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/capture"
	"github.com/Avi18971911/Swarmtrace/internal/transport"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/encoding"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testTimeout = 2 * time.Second

var (
	serverKey = []byte{0x01, 0x02}
	clientKey = []byte{0x0a, 0x0b}
)

func TestClient_Replay(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should number events from zero and replay everything on a fresh handshake", func(t *testing.T) {
		listener, hook, client := startClient(t, logger, Options{})
		emitN(hook, "peer", 3)

		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		events := readEvents(t, stream, 3)
		assert.Equal(t, []uint64{0, 1, 2}, traceNumbers(events))
		for _, event := range events {
			assert.Equal(t, client.TraceSessionId(), event.TraceSessionId)
		}

		emitN(hook, "peer", 1)
		live := readEvents(t, stream, 1)
		assert.Equal(t, uint64(3), live[0].TraceNumber)
	})

	t.Run("should replay only events after the last seen trace number of the same session", func(t *testing.T) {
		listener, hook, client := startClient(t, logger, Options{})
		emitN(hook, "peer", 6)

		stream := accept(t, listener)
		sessionId := client.TraceSessionId()
		lastSeen := uint64(2)
		writeHandshake(t, stream, model.Handshake{LastSeenTraceSessionId: &sessionId, LastSeenTraceNumber: &lastSeen})
		events := readEvents(t, stream, 3)
		assert.Equal(t, []uint64{3, 4, 5}, traceNumbers(events))
	})

	t.Run("should replay the entire buffer when the handshake names another session", func(t *testing.T) {
		listener, hook, _ := startClient(t, logger, Options{})
		emitN(hook, "peer", 4)

		stream := accept(t, listener)
		otherSession := "some-other-session"
		lastSeen := uint64(2)
		writeHandshake(t, stream, model.Handshake{LastSeenTraceSessionId: &otherSession, LastSeenTraceNumber: &lastSeen})
		events := readEvents(t, stream, 4)
		assert.Equal(t, []uint64{0, 1, 2, 3}, traceNumbers(events))
	})

	t.Run("should resume after a reconnect without duplicates", func(t *testing.T) {
		var reconnects atomic.Int32
		listener, hook, client := startClient(t, logger, Options{
			ReconnectDelay: func() time.Duration { return 10 * time.Millisecond },
			OnReconnect:    func() { reconnects.Add(1) },
		})
		emitN(hook, "peer", 2)

		first := accept(t, listener)
		writeHandshake(t, first, model.Handshake{})
		assert.Equal(t, []uint64{0, 1}, traceNumbers(readEvents(t, first, 2)))
		_ = first.Close()

		emitN(hook, "peer", 2)
		second := accept(t, listener)
		sessionId := client.TraceSessionId()
		lastSeen := uint64(1)
		writeHandshake(t, second, model.Handshake{LastSeenTraceSessionId: &sessionId, LastSeenTraceNumber: &lastSeen})
		assert.Equal(t, []uint64{2, 3}, traceNumbers(readEvents(t, second, 2)))
		assert.Equal(t, int32(1), reconnects.Load())
	})
}

func TestClient_Capture(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should skip ignored class names including the parent object", func(t *testing.T) {
		listener, hook, _ := startClient(t, logger, Options{IgnoreClassNames: []string{"Noisy"}})
		hook.Emit(capture.Params{Id: "a", Object: model.Object{ClassName: "Noisy"}})
		hook.Emit(capture.Params{
			Id:           "b",
			Object:       model.Object{ClassName: "Child"},
			ParentObject: &model.Object{ClassName: "Noisy"},
		})
		hook.Emit(capture.Params{Id: "c", Object: model.Object{ClassName: "Kept"}})

		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		events := readEvents(t, stream, 1)
		assert.Equal(t, "c", events[0].Id)
		assert.Equal(t, uint64(0), events[0].TraceNumber)
	})

	t.Run("should not consume a trace number when serialization fails", func(t *testing.T) {
		listener, hook, _ := startClient(t, logger, Options{})
		cyclic := map[string]interface{}{}
		cyclic["self"] = cyclic
		hook.Emit(capture.Params{Id: "first", Object: model.Object{ClassName: "Peer"}})
		hook.Emit(capture.Params{Id: "broken", Object: model.Object{ClassName: "Peer", Props: model.Props{"cycle": cyclic}}})
		hook.Emit(capture.Params{Id: "second", Object: model.Object{ClassName: "Peer"}})

		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		events := readEvents(t, stream, 2)
		assert.Equal(t, []uint64{0, 1}, traceNumbers(events))
		assert.Equal(t, "second", events[1].Id)
	})

	t.Run("should attach initial and added props to following events", func(t *testing.T) {
		listener, hook, client := startClient(t, logger, Options{
			GetInitialProps: func(ctx context.Context) (model.Props, error) {
				return model.Props{"user": "alice"}, nil
			},
		})
		client.AddProps(model.Props{"room": "lobby"})
		emitN(hook, "peer", 1)

		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		events := readEvents(t, stream, 1)
		assert.Equal(t, "alice", events[0].Props["user"])
		assert.Equal(t, "lobby", events[0].Props["room"])
	})
}

func TestClient_Lifecycle(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should release the hook and report close when reconnecting is not allowed", func(t *testing.T) {
		closed := make(chan struct{})
		listener, hook, client := startClient(t, logger, Options{
			CanReconnect: func() bool { return false },
			OnClose:      func() { close(closed) },
		})
		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		_ = stream.Close()

		select {
		case <-closed:
		case <-time.After(testTimeout):
			t.Fatal("Timed out waiting for close callback")
		}
		assert.Eventually(t, func() bool { return !hook.Installed() }, testTimeout, 5*time.Millisecond)
		assert.False(t, client.IsRunning())
	})

	t.Run("should ignore a second start and allow repeated stops", func(t *testing.T) {
		listener, hook, client := startClient(t, logger, Options{})
		err := client.Start(context.Background(), Options{Dialer: listener.Dialer(clientKey), Hook: hook})
		assert.NoError(t, err)

		client.Stop()
		client.Stop()
		assert.False(t, hook.Installed())
	})

	t.Run("should record connection errors", func(t *testing.T) {
		connectionErrors := make(chan error, 1)
		hook := &capture.Hook{}
		client := NewClient(logger)
		err := client.Start(context.Background(), Options{
			Dialer:            failingDialer{},
			Hook:              hook,
			CanReconnect:      func() bool { return false },
			OnConnectionError: func(err error) { connectionErrors <- err },
		})
		assert.NoError(t, err)
		t.Cleanup(client.Stop)

		select {
		case err := <-connectionErrors:
			assert.ErrorIs(t, err, transport.ErrAuthFailed)
		case <-time.After(testTimeout):
			t.Fatal("Timed out waiting for connection error")
		}
		assert.ErrorIs(t, client.LastConnectionError(), transport.ErrAuthFailed)
	})
}

func TestClient_StopFromCallback(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should stop from the reconnect callback without blocking", func(t *testing.T) {
		stopped := make(chan struct{})
		var client *Client
		listener, hook, started := startClient(t, logger, Options{
			ReconnectDelay: func() time.Duration { return 10 * time.Millisecond },
			OnReconnect: func() {
				client.Stop()
				close(stopped)
			},
		})
		client = started
		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		_ = stream.Close()

		select {
		case <-stopped:
		case <-time.After(testTimeout):
			t.Fatal("Timed out waiting for stop inside the reconnect callback")
		}
		assert.False(t, hook.Installed())
		assert.Eventually(t, func() bool { return !client.IsRunning() }, testTimeout, 5*time.Millisecond)
	})

	t.Run("should stop from the close callback without blocking", func(t *testing.T) {
		stopped := make(chan struct{})
		var client *Client
		listener, hook, started := startClient(t, logger, Options{
			CanReconnect: func() bool { return false },
			OnClose: func() {
				client.Stop()
				close(stopped)
			},
		})
		client = started
		stream := accept(t, listener)
		writeHandshake(t, stream, model.Handshake{})
		_ = stream.Close()

		select {
		case <-stopped:
		case <-time.After(testTimeout):
			t.Fatal("Timed out waiting for stop inside the close callback")
		}
		assert.False(t, hook.Installed())
	})

	t.Run("should stop from the connection error callback without redialing", func(t *testing.T) {
		stopped := make(chan struct{})
		dialer := &countingDialer{}
		client := NewClient(logger)
		err := client.Start(context.Background(), Options{
			Dialer:         dialer,
			Hook:           &capture.Hook{},
			ReconnectDelay: func() time.Duration { return time.Millisecond },
			OnConnectionError: func(err error) {
				client.Stop()
				close(stopped)
			},
		})
		assert.NoError(t, err)
		t.Cleanup(client.Stop)

		select {
		case <-stopped:
		case <-time.After(testTimeout):
			t.Fatal("Timed out waiting for stop inside the connection error callback")
		}
		assert.Never(t, func() bool { return dialer.dials.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestClient_ReconnectDelay(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should draw the default delay from ten to fifteen seconds", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			delay := RandomReconnectDelay()
			assert.GreaterOrEqual(t, delay, 10*time.Second)
			assert.Less(t, delay, 15*time.Second)
		}
	})

	t.Run("should redial exactly once after the delay elapses", func(t *testing.T) {
		const delay = 12 * time.Second
		mock := &timerClock{Mock: clock.NewMock(), scheduled: make(chan time.Duration, 8)}
		dialer := &countingDialer{}
		client := NewClient(logger)
		err := client.Start(context.Background(), Options{
			Dialer:         dialer,
			Hook:           &capture.Hook{},
			Clock:          mock,
			ReconnectDelay: func() time.Duration { return delay },
		})
		assert.NoError(t, err)
		t.Cleanup(client.Stop)

		waitScheduled(t, mock, delay)
		assert.Equal(t, int32(1), dialer.dials.Load())

		mock.Add(delay - time.Millisecond)
		assert.Never(t, func() bool { return dialer.dials.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

		mock.Add(time.Millisecond)
		waitScheduled(t, mock, delay)
		assert.Equal(t, int32(2), dialer.dials.Load())
		assert.Never(t, func() bool { return dialer.dials.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

// timerClock reports every reconnect wait once its timer is registered with the mock.
type timerClock struct {
	*clock.Mock
	scheduled chan time.Duration
}

func (c *timerClock) After(d time.Duration) <-chan time.Time {
	ch := c.Mock.After(d)
	c.scheduled <- d
	return ch
}

func waitScheduled(t *testing.T, c *timerClock, expected time.Duration) {
	select {
	case d := <-c.scheduled:
		assert.Equal(t, expected, d)
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for the reconnect timer")
	}
}

type countingDialer struct {
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context) (transport.Stream, error) {
	d.dials.Add(1)
	return nil, transport.ErrAuthFailed
}

type failingDialer struct{}

func (failingDialer) Dial(ctx context.Context) (transport.Stream, error) {
	return nil, transport.ErrAuthFailed
}

func startClient(t *testing.T, logger *zap.Logger, opts Options) (*transport.MemoryListener, *capture.Hook, *Client) {
	listener := transport.NewMemoryListener(serverKey)
	hook := &capture.Hook{}
	opts.Dialer = listener.Dialer(clientKey)
	opts.Hook = hook
	client := NewClient(logger)
	if err := client.Start(context.Background(), opts); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	t.Cleanup(func() {
		client.Stop()
		_ = listener.Close()
	})
	return listener, hook, client
}

func emitN(hook *capture.Hook, className string, n int) {
	for i := 0; i < n; i++ {
		hook.Emit(capture.Params{Id: "tick", Object: model.Object{Id: model.ObjectIdFromInt(i), ClassName: className}})
	}
}

func accept(t *testing.T, listener *transport.MemoryListener) transport.Stream {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	stream, err := listener.Accept(ctx)
	if err != nil {
		t.Fatalf("Failed to accept client connection: %v", err)
	}
	return stream
}

func writeHandshake(t *testing.T, stream transport.Stream, handshake model.Handshake) {
	data, err := encoding.EncodeHandshake(handshake)
	if err != nil {
		t.Fatalf("Failed to encode handshake: %v", err)
	}
	if err := stream.WriteMessage(data); err != nil {
		t.Fatalf("Failed to write handshake: %v", err)
	}
}

func readEvents(t *testing.T, stream transport.Stream, n int) []model.TraceEvent {
	result := make(chan []model.TraceEvent, 1)
	failure := make(chan error, 1)
	go func() {
		events := make([]model.TraceEvent, 0, n)
		for len(events) < n {
			data, err := stream.ReadMessage()
			if err != nil {
				failure <- err
				return
			}
			event, err := encoding.DecodeEvent(data)
			if err != nil {
				failure <- err
				return
			}
			events = append(events, event)
		}
		result <- events
	}()
	select {
	case events := <-result:
		return events
	case err := <-failure:
		t.Fatalf("Failed to read events: %v", err)
	case <-time.After(testTimeout):
		t.Fatalf("Timed out waiting for %d events", n)
	}
	return nil
}

func traceNumbers(events []model.TraceEvent) []uint64 {
	numbers := make([]uint64, len(events))
	for i, event := range events {
		numbers[i] = event.TraceNumber
	}
	return numbers
}
