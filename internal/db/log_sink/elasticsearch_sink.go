package log_sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Swarmtrace/internal/db/write_buffer"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const closeTimeOut = 10 * time.Second

type traceEventDocument struct {
	DocumentId string `json:"_id,omitempty"`
	model.LogEntry
}

// ElasticsearchSink mirrors log entries into an index in batches. Events are keyed by peer, session
// and trace number, so a replayed event overwrites its earlier copy.
type ElasticsearchSink struct {
	buffer write_buffer.DatabaseWriteBuffer[traceEventDocument]
}

func NewElasticsearchSink(
	tc client.TraceClient,
	indexName string,
	queueSize int,
	clk clock.Clock,
	logger *zap.Logger,
) *ElasticsearchSink {
	flush := func(ctx context.Context, documents []traceEventDocument) error {
		metaMap, dataMap, err := client.ToMetaAndDataMap(documents)
		if err != nil {
			return fmt.Errorf("error converting write queue to meta and data map: %w", err)
		}
		if err := tc.BulkIndex(ctx, metaMap, dataMap, indexName); err != nil {
			return fmt.Errorf("error bulk indexing to Elasticsearch: %w", err)
		}
		return nil
	}
	return &ElasticsearchSink{
		buffer: write_buffer.NewDatabaseWriteBufferImpl[traceEventDocument](flush, queueSize, clk, logger),
	}
}

func (es *ElasticsearchSink) Write(ctx context.Context, entry model.LogEntry) error {
	es.buffer.WriteToBuffer([]traceEventDocument{{DocumentId: DocumentId(entry), LogEntry: entry}})
	return nil
}

// Run flushes periodically until ctx is done.
func (es *ElasticsearchSink) Run(ctx context.Context, interval time.Duration) {
	es.buffer.Run(ctx, interval)
}

func (es *ElasticsearchSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeOut)
	defer cancel()
	return es.buffer.Flush(ctx)
}

// DocumentId is empty for notes, which are never replayed.
func DocumentId(entry model.LogEntry) string {
	if entry.IsNote() {
		return ""
	}
	return fmt.Sprintf("%s-%s-%d", entry.PeerId, entry.TraceSessionId, entry.TraceNumber)
}
