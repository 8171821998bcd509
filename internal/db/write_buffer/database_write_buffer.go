package write_buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const WriteQueueSize = 30
const flushTimeOut = 10 * time.Second

type FlushFunc[ValueType any] func(ctx context.Context, values []ValueType) error

type DatabaseWriteBuffer[ValueType any] interface {
	WriteToBuffer(values []ValueType)
	Flush(ctx context.Context) error
	// Run flushes every interval until ctx is done, then flushes what is left.
	Run(ctx context.Context, interval time.Duration)
}

type DatabaseWriteBufferImpl[ValueType any] struct {
	writeQueue []ValueType
	queueSize  int
	flush      FlushFunc[ValueType]
	clock      clock.Clock
	logger     *zap.Logger
	mu         sync.Mutex
	// flushMu keeps batches leaving in the order they were queued
	flushMu sync.Mutex
}

func NewDatabaseWriteBufferImpl[ValueType any](
	flush FlushFunc[ValueType],
	queueSize int,
	clk clock.Clock,
	logger *zap.Logger,
) *DatabaseWriteBufferImpl[ValueType] {
	if queueSize <= 0 {
		queueSize = WriteQueueSize
	}
	return &DatabaseWriteBufferImpl[ValueType]{
		writeQueue: []ValueType{},
		queueSize:  queueSize,
		flush:      flush,
		clock:      clk,
		logger:     logger,
	}
}

func (wb *DatabaseWriteBufferImpl[ValueType]) WriteToBuffer(
	values []ValueType,
) {
	wb.mu.Lock()
	wb.writeQueue = append(wb.writeQueue, values...)
	full := len(wb.writeQueue) > wb.queueSize
	wb.mu.Unlock()
	if full {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
			defer cancel()
			if err := wb.Flush(ctx); err != nil {
				wb.logger.Error("Failed to flush write buffer", zap.Error(err))
			}
		}()
	}
}

func (wb *DatabaseWriteBufferImpl[ValueType]) Flush(ctx context.Context) error {
	wb.flushMu.Lock()
	defer wb.flushMu.Unlock()

	wb.mu.Lock()
	batch := wb.writeQueue
	wb.writeQueue = []ValueType{}
	wb.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := wb.flush(ctx, batch); err != nil {
		return fmt.Errorf("error flushing %d buffered values: %w", len(batch), err)
	}
	return nil
}

func (wb *DatabaseWriteBufferImpl[ValueType]) Run(ctx context.Context, interval time.Duration) {
	ticker := wb.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
			if err := wb.Flush(finalCtx); err != nil {
				wb.logger.Error("Failed to flush write buffer on shutdown", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, flushTimeOut)
			if err := wb.Flush(flushCtx); err != nil {
				wb.logger.Error("Failed to flush write buffer", zap.Error(err))
			}
			cancel()
		}
	}
}
