package otlp_forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/db/write_buffer"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	common "go.opentelemetry.io/proto/otlp/common/v1"
	v1 "go.opentelemetry.io/proto/otlp/logs/v1"
	resource "go.opentelemetry.io/proto/otlp/resource/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const ScopeName = "swarmtrace"
const closeTimeOut = 10 * time.Second

// LogForwarder mirrors log entries to an OTLP logs endpoint as batched Export calls.
type LogForwarder struct {
	client      protoLogs.LogsServiceClient
	conn        *grpc.ClientConn
	serviceName string
	buffer      write_buffer.DatabaseWriteBuffer[*v1.LogRecord]
	clock       clock.Clock
	logger      *zap.Logger
}

// Dial connects to an OTLP/gRPC collector without transport security.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP client for %s: %w", target, err)
	}
	return conn, nil
}

func NewLogForwarder(
	conn *grpc.ClientConn,
	serviceName string,
	queueSize int,
	clk clock.Clock,
	logger *zap.Logger,
) *LogForwarder {
	lf := &LogForwarder{
		client:      protoLogs.NewLogsServiceClient(conn),
		conn:        conn,
		serviceName: serviceName,
		clock:       clk,
		logger:      logger,
	}
	lf.buffer = write_buffer.NewDatabaseWriteBufferImpl[*v1.LogRecord](lf.export, queueSize, clk, logger)
	return lf
}

func (lf *LogForwarder) Write(ctx context.Context, entry model.LogEntry) error {
	record, err := toLogRecord(entry, lf.clock.Now())
	if err != nil {
		return err
	}
	lf.buffer.WriteToBuffer([]*v1.LogRecord{record})
	return nil
}

func (lf *LogForwarder) Run(ctx context.Context, interval time.Duration) {
	lf.buffer.Run(ctx, interval)
}

func (lf *LogForwarder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeOut)
	defer cancel()
	flushErr := lf.buffer.Flush(ctx)
	if err := lf.conn.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("failed to close OTLP connection: %w", err)
	}
	return flushErr
}

func (lf *LogForwarder) export(ctx context.Context, records []*v1.LogRecord) error {
	req := &protoLogs.ExportLogsServiceRequest{
		ResourceLogs: []*v1.ResourceLogs{
			{
				Resource: &resource.Resource{
					Attributes: []*common.KeyValue{stringAttribute("service.name", lf.serviceName)},
				},
				ScopeLogs: []*v1.ScopeLogs{
					{
						Scope:      &common.InstrumentationScope{Name: ScopeName},
						LogRecords: records,
					},
				},
			},
		},
	}
	res, err := lf.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to export %d log records: %w", len(records), err)
	}
	if rejected := res.GetPartialSuccess().GetRejectedLogRecords(); rejected > 0 {
		lf.logger.Warn("OTLP collector rejected log records",
			zap.Int64("rejected", rejected),
			zap.String("message", res.GetPartialSuccess().GetErrorMessage()),
		)
	}
	return nil
}

func toLogRecord(entry model.LogEntry, observed time.Time) (*v1.LogRecord, error) {
	attributes := []*common.KeyValue{
		stringAttribute("peer_id", entry.PeerId),
	}
	if entry.UserId != "" {
		attributes = append(attributes, stringAttribute("user_id", entry.UserId))
	}

	var body string
	severity := v1.SeverityNumber_SEVERITY_NUMBER_INFO
	if entry.IsNote() {
		body = entry.Note
		severity = getSeverityNumber(entry.Level)
	} else {
		eventJSON, err := json.Marshal(entry.TraceEvent)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal trace event for OTLP: %w", err)
		}
		body = string(eventJSON)
		attributes = append(attributes,
			stringAttribute("trace_session_id", entry.TraceSessionId),
			&common.KeyValue{
				Key:   "trace_number",
				Value: &common.AnyValue{Value: &common.AnyValue_IntValue{IntValue: int64(entry.TraceNumber)}},
			},
			stringAttribute("event_id", entry.Id),
			stringAttribute("class_name", entry.Object.ClassName),
		)
	}

	return &v1.LogRecord{
		TimeUnixNano:         uint64(entry.Time.UnixNano()),
		ObservedTimeUnixNano: uint64(observed.UnixNano()),
		SeverityNumber:       severity,
		SeverityText:         severityText(severity),
		Body:                 &common.AnyValue{Value: &common.AnyValue_StringValue{StringValue: body}},
		Attributes:           attributes,
	}, nil
}

func getSeverityNumber(level model.NoteLevel) v1.SeverityNumber {
	switch level {
	case model.WarnLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_WARN
	case model.ErrorLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_ERROR
	default:
		return v1.SeverityNumber_SEVERITY_NUMBER_INFO
	}
}

func severityText(severity v1.SeverityNumber) string {
	switch severity {
	case v1.SeverityNumber_SEVERITY_NUMBER_WARN:
		return "WARN"
	case v1.SeverityNumber_SEVERITY_NUMBER_ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func stringAttribute(key string, value string) *common.KeyValue {
	return &common.KeyValue{
		Key:   key,
		Value: &common.AnyValue{Value: &common.AnyValue_StringValue{StringValue: value}},
	}
}
