package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	// a peer is considered gone after this many keep-alive intervals without traffic
	keepAliveMisses = 3
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type websocketStream struct {
	conn            *websocket.Conn
	remotePublicKey []byte
	writeMu         sync.Mutex
	keepAliveMu     sync.Mutex
	keepAlive       time.Duration
	closeOnce       sync.Once
	done            chan struct{}
}

func newWebsocketStream(conn *websocket.Conn, remotePublicKey []byte) *websocketStream {
	return &websocketStream{
		conn:            conn,
		remotePublicKey: remotePublicKey,
		done:            make(chan struct{}),
	}
}

func (s *websocketStream) readFrame() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *websocketStream) writeFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *websocketStream) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || isDone(s.done) {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, err
		}
		s.extendReadDeadline()
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (s *websocketStream) WriteMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if isDone(s.done) {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// SetKeepAlive starts pinging the peer every interval and fails reads once the peer has been
// silent for several intervals. Only the first call starts the pinger.
func (s *websocketStream) SetKeepAlive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.keepAliveMu.Lock()
	started := s.keepAlive > 0
	s.keepAlive = interval
	s.keepAliveMu.Unlock()
	if started {
		return
	}

	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})
	s.extendReadDeadline()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				if err != nil {
					return
				}
			}
		}
	}()
}

func (s *websocketStream) extendReadDeadline() {
	s.keepAliveMu.Lock()
	interval := s.keepAlive
	s.keepAliveMu.Unlock()
	if interval > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(interval * keepAliveMisses))
	}
}

func (s *websocketStream) RemotePublicKey() []byte {
	return s.remotePublicKey
}

func (s *websocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}

type WebsocketDialer struct {
	URL     string
	KeyPair KeyPair
	// ServerPublicKey pins the server identity; nil accepts any server.
	ServerPublicKey []byte
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s: %w", d.URL, err)
	}
	stream := newWebsocketStream(conn, nil)
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	serverKey, err := authenticateAsClient(stream, d.KeyPair, d.ServerPublicKey)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	stream.remotePublicKey = serverKey
	return stream, nil
}

// WebsocketListener authenticates incoming websocket connections and hands them out through Accept.
// It is an http.Handler so it can be mounted on an existing server, or it can own one via
// ListenWebsocket.
type WebsocketListener struct {
	keyPair   KeyPair
	logger    *zap.Logger
	accepted  chan Stream
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
	addr      net.Addr
}

func NewWebsocketListener(keyPair KeyPair, logger *zap.Logger) *WebsocketListener {
	return &WebsocketListener{
		keyPair:  keyPair,
		logger:   logger,
		accepted: make(chan Stream),
		done:     make(chan struct{}),
	}
}

func ListenWebsocket(address string, keyPair KeyPair, logger *zap.Logger) (*WebsocketListener, error) {
	netListener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", address, err)
	}
	l := NewWebsocketListener(keyPair, logger)
	l.addr = netListener.Addr()
	l.server = &http.Server{Handler: l, ReadHeaderTimeout: authTimeout}
	go func() {
		if err := l.server.Serve(netListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Websocket listener stopped serving", zap.Error(err))
		}
	}()
	return l, nil
}

func (l *WebsocketListener) Addr() net.Addr {
	return l.addr
}

func (l *WebsocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("Failed to upgrade connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	stream := newWebsocketStream(conn, nil)
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	clientKey, err := authenticateAsServer(stream, l.keyPair)
	if err != nil {
		l.logger.Warn("Rejected unauthenticated peer", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	stream.remotePublicKey = clientKey

	select {
	case l.accepted <- stream:
	case <-l.done:
		_ = stream.Close()
	}
}

func (l *WebsocketListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case stream := <-l.accepted:
		return stream, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WebsocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = l.server.Shutdown(ctx)
		}
	})
	return err
}

func isDone(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
