package log_sink

import (
	"context"
	"errors"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

// LogSink persists log entries. Write must keep per-peer order for entries written from one goroutine.
type LogSink interface {
	Write(ctx context.Context, entry model.LogEntry) error
	Close() error
}

var ErrSinkClosed = errors.New("log sink is closed")
