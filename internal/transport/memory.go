package transport

import (
	"context"
	"sync"
	"time"
)

const memoryStreamBuffer = 8192

// memoryStream is one end of an in-process stream pair.
type memoryStream struct {
	inbox     chan []byte
	peer      *memoryStream
	remoteKey []byte
	shared    *pipeState
	mu        sync.Mutex
	keepAlive time.Duration
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

// NewPipe returns two connected streams. The first reports remoteOfFirst as its peer identity.
func NewPipe(remoteOfFirst []byte, remoteOfSecond []byte) (Stream, Stream) {
	shared := &pipeState{done: make(chan struct{})}
	first := &memoryStream{inbox: make(chan []byte, memoryStreamBuffer), remoteKey: remoteOfFirst, shared: shared}
	second := &memoryStream{inbox: make(chan []byte, memoryStreamBuffer), remoteKey: remoteOfSecond, shared: shared}
	first.peer = second
	second.peer = first
	return first, second
}

func (s *memoryStream) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.inbox:
		return data, nil
	default:
	}
	select {
	case data := <-s.inbox:
		return data, nil
	case <-s.shared.done:
		select {
		case data := <-s.inbox:
			return data, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (s *memoryStream) WriteMessage(data []byte) error {
	if isDone(s.shared.done) {
		return ErrClosed
	}
	copied := append([]byte(nil), data...)
	select {
	case s.peer.inbox <- copied:
		return nil
	case <-s.shared.done:
		return ErrClosed
	}
}

func (s *memoryStream) SetKeepAlive(interval time.Duration) {
	s.mu.Lock()
	s.keepAlive = interval
	s.mu.Unlock()
}

func (s *memoryStream) KeepAlive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlive
}

func (s *memoryStream) RemotePublicKey() []byte {
	return s.remoteKey
}

func (s *memoryStream) Close() error {
	s.shared.once.Do(func() {
		close(s.shared.done)
	})
	return nil
}

// MemoryListener accepts streams created by its Dialers, for tests and in-process wiring.
type MemoryListener struct {
	publicKey []byte
	accepted  chan Stream
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryListener(publicKey []byte) *MemoryListener {
	return &MemoryListener{
		publicKey: publicKey,
		accepted:  make(chan Stream),
		done:      make(chan struct{}),
	}
}

func (l *MemoryListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case stream := <-l.accepted:
		return stream, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *MemoryListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// Dialer returns a Dialer whose streams present clientKey to this listener.
func (l *MemoryListener) Dialer(clientKey []byte) Dialer {
	return &memoryDialer{listener: l, clientKey: clientKey}
}

type memoryDialer struct {
	listener  *MemoryListener
	clientKey []byte
}

func (d *memoryDialer) Dial(ctx context.Context) (Stream, error) {
	clientEnd, serverEnd := NewPipe(d.listener.publicKey, d.clientKey)
	select {
	case d.listener.accepted <- serverEnd:
		return clientEnd, nil
	case <-d.listener.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
