package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"time"
)

const DefaultKeepAlive = 5 * time.Second

// Stream is an ordered, message-oriented, bidirectional connection to an authenticated peer.
// One WriteMessage call is delivered as one ReadMessage result on the other side.
type Stream interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetKeepAlive(interval time.Duration)
	RemotePublicKey() []byte
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type Listener interface {
	Accept(ctx context.Context) (Stream, error)
	Close() error
}

func RemoteId(stream Stream) string {
	return hex.EncodeToString(stream.RemotePublicKey())
}

var (
	ErrClosed       = errors.New("stream closed")
	ErrAuthFailed   = errors.New("peer authentication failed")
	ErrUnexpectedId = errors.New("peer presented an unexpected public key")
)
