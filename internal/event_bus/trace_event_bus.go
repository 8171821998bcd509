package event_bus

import (
	"encoding/json"
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

const (
	// LogEntryTopic carries every entry the tracer server persisted, notes included.
	LogEntryTopic = "log_entry"
	// PeerRestartTopic carries the peer id of a peer that began a new trace session.
	PeerRestartTopic = "peer_restart"
)

// TraceEventBus publishes values as JSON so subscribers never share memory with the publisher.
type TraceEventBus[ValueType any] interface {
	// Subscribe runs handler on the publishing goroutine, preserving publish order per publisher.
	Subscribe(topic string, handler func(value ValueType) error) error
	SubscribeAsync(topic string, handler func(value ValueType) error, transactional bool) error
	Publish(topic string, value ValueType) error
	WaitAsync()
}

type TraceEventBusImpl[ValueType any] struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewTraceEventBus[ValueType any](
	eventBus EventBus.Bus,
	logger *zap.Logger,
) TraceEventBus[ValueType] {
	return &TraceEventBusImpl[ValueType]{
		eventBus: eventBus,
		logger:   logger,
	}
}

func (ev *TraceEventBusImpl[ValueType]) Subscribe(
	topic string,
	handler func(value ValueType) error,
) error {
	err := ev.eventBus.Subscribe(topic, ev.wrap(topic, handler))
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

func (ev *TraceEventBusImpl[ValueType]) SubscribeAsync(
	topic string,
	handler func(value ValueType) error,
	transactional bool,
) error {
	err := ev.eventBus.SubscribeAsync(topic, ev.wrap(topic, handler), transactional)
	if err != nil {
		return fmt.Errorf("failed to subscribe asynchronously to topic %s: %w", topic, err)
	}
	return nil
}

func (ev *TraceEventBusImpl[ValueType]) wrap(topic string, handler func(value ValueType) error) func(arg string) {
	return func(arg string) {
		var value ValueType
		err := json.Unmarshal([]byte(arg), &value)
		if err != nil {
			ev.logger.Error("Failed to unmarshal input during subscription of topic",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		err = handler(value)
		if err != nil {
			ev.logger.Error("Failed to handle input during subscription of topic",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
}

func (ev *TraceEventBusImpl[ValueType]) Publish(
	topic string,
	value ValueType,
) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal output during publishing of topic %s: %w", topic, err)
	}
	ev.eventBus.Publish(topic, string(valueBytes))
	return nil
}

func (ev *TraceEventBusImpl[ValueType]) WaitAsync() {
	ev.eventBus.WaitAsync()
}
