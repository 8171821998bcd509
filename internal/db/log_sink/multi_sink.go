package log_sink

import (
	"context"
	"fmt"

	"github.com/Avi18971911/Swarmtrace/internal/metrics"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"go.uber.org/multierr"
)

type NamedSink struct {
	Name string
	Sink LogSink
}

// MultiSink writes every entry to all sinks in order. A failing sink does not stop the others.
type MultiSink struct {
	sinks []NamedSink
}

func NewMultiSink(sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (ms *MultiSink) Write(ctx context.Context, entry model.LogEntry) error {
	var err error
	for _, named := range ms.sinks {
		if writeErr := named.Sink.Write(ctx, entry); writeErr != nil {
			metrics.SinkErrors.WithLabelValues(named.Name).Inc()
			err = multierr.Append(err, fmt.Errorf("sink %s: %w", named.Name, writeErr))
		}
	}
	return err
}

func (ms *MultiSink) Close() error {
	var err error
	for _, named := range ms.sinks {
		if closeErr := named.Sink.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("sink %s: %w", named.Name, closeErr))
		}
	}
	return err
}
