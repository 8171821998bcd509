package log_sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Avi18971911/Swarmtrace/internal/db/elasticsearch/client"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"github.com/benbjohnson/clock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func traceEntry(peerId string, traceNumber uint64) model.LogEntry {
	return model.LogEntry{
		Time:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		UserId: "alice___" + peerId,
		PeerId: peerId,
		TraceEvent: &model.TraceEvent{
			TraceSessionId: "session",
			TraceNumber:    traceNumber,
			Id:             model.ListenEventId,
			Object:         model.Object{Id: "1", ClassName: "Swarm"},
		},
	}
}

func TestFileSink(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should append one JSON line per entry to the peer's file", func(t *testing.T) {
		folder := t.TempDir()
		fs, err := NewFileSink(folder, DefaultMaxOpenFiles, logger)
		assert.NoError(t, err)

		assert.NoError(t, fs.Write(context.Background(), traceEntry("abcd", 0)))
		assert.NoError(t, fs.Write(context.Background(), model.LogEntry{PeerId: "abcd", Note: "hello", Level: model.InfoLevel}))
		assert.NoError(t, fs.Write(context.Background(), traceEntry("ef01", 0)))
		assert.NoError(t, fs.Close())

		lines := readLines(t, filepath.Join(folder, "abcd.log"))
		assert.Len(t, lines, 2)
		var first model.LogEntry
		assert.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, uint64(0), first.TraceNumber)
		assert.True(t, strings.HasPrefix(lines[0], `{"time":`))
		var note model.LogEntry
		assert.NoError(t, json.Unmarshal([]byte(lines[1]), &note))
		assert.True(t, note.IsNote())
		assert.Equal(t, "hello", note.Note)

		assert.Len(t, readLines(t, filepath.Join(folder, "ef01.log")), 1)
	})

	t.Run("should keep appending across reopen", func(t *testing.T) {
		folder := t.TempDir()
		for i := 0; i < 2; i++ {
			fs, err := NewFileSink(folder, DefaultMaxOpenFiles, logger)
			assert.NoError(t, err)
			assert.NoError(t, fs.Write(context.Background(), traceEntry("abcd", uint64(i))))
			assert.NoError(t, fs.Close())
		}
		assert.Len(t, readLines(t, filepath.Join(folder, "abcd.log")), 2)
	})

	t.Run("should close the least recently written file beyond the open file limit", func(t *testing.T) {
		folder := t.TempDir()
		fs, err := NewFileSink(folder, 2, logger)
		assert.NoError(t, err)

		peers := []string{"aa", "bb", "cc", "aa", "dd", "bb"}
		for i, peerId := range peers {
			assert.NoError(t, fs.Write(context.Background(), traceEntry(peerId, uint64(i))))
			assert.LessOrEqual(t, fs.OpenFiles(), 2)
		}
		assert.NoError(t, fs.Close())
		assert.Equal(t, 0, fs.OpenFiles())

		assert.Len(t, readLines(t, filepath.Join(folder, "aa.log")), 2)
		assert.Len(t, readLines(t, filepath.Join(folder, "bb.log")), 2)
		assert.Len(t, readLines(t, filepath.Join(folder, "cc.log")), 1)
		assert.Len(t, readLines(t, filepath.Join(folder, "dd.log")), 1)
	})

	t.Run("should reject peer ids that escape the folder", func(t *testing.T) {
		fs, err := NewFileSink(t.TempDir(), DefaultMaxOpenFiles, logger)
		assert.NoError(t, err)
		err = fs.Write(context.Background(), traceEntry("../evil", 0))
		assert.ErrorIs(t, err, ErrInvalidPeerId)
	})

	t.Run("should refuse writes after close", func(t *testing.T) {
		fs, err := NewFileSink(t.TempDir(), DefaultMaxOpenFiles, logger)
		assert.NoError(t, err)
		assert.NoError(t, fs.Close())
		assert.ErrorIs(t, fs.Write(context.Background(), traceEntry("abcd", 0)), ErrSinkClosed)
	})
}

type fakeSink struct {
	mu      sync.Mutex
	entries []model.LogEntry
	err     error
	closed  bool
}

func (fs *fakeSink) Write(ctx context.Context, entry model.LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.err != nil {
		return fs.err
	}
	fs.entries = append(fs.entries, entry)
	return nil
}

func (fs *fakeSink) Close() error {
	fs.closed = true
	return fs.err
}

func TestMultiSink(t *testing.T) {
	t.Run("should write to every sink even when one fails", func(t *testing.T) {
		failure := errors.New("disk full")
		broken := &fakeSink{err: failure}
		healthy := &fakeSink{}
		ms := NewMultiSink(NamedSink{Name: "broken", Sink: broken}, NamedSink{Name: "healthy", Sink: healthy})

		err := ms.Write(context.Background(), traceEntry("abcd", 0))
		assert.ErrorIs(t, err, failure)
		assert.Len(t, healthy.entries, 1)

		err = ms.Close()
		assert.ErrorIs(t, err, failure)
		assert.True(t, healthy.closed)
	})
}

func TestElasticsearchSink(t *testing.T) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	t.Run("should bulk index buffered entries keyed for replay on close", func(t *testing.T) {
		var mu sync.Mutex
		var bodies []string
		var paths []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			if !strings.HasSuffix(r.URL.Path, "/_bulk") {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			paths = append(paths, r.URL.Path)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"took":1,"errors":false,"items":[]}`))
		}))
		defer srv.Close()

		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
		assert.NoError(t, err)
		tc := client.NewTraceClientImpl(es, client.Immediate)
		sink := NewElasticsearchSink(tc, "trace_event_index", 100, clock.NewMock(), logger)

		assert.NoError(t, sink.Write(context.Background(), traceEntry("abcd", 7)))
		assert.NoError(t, sink.Write(context.Background(), model.LogEntry{PeerId: "abcd", Note: "note"}))
		assert.NoError(t, sink.Close())

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"/trace_event_index/_bulk"}, paths)
		lines := strings.Split(strings.TrimSpace(bodies[0]), "\n")
		assert.Len(t, lines, 4)
		assert.JSONEq(t, `{"index":{"_id":"abcd-session-7"}}`, lines[0])
		assert.JSONEq(t, `{"index":{}}`, lines[2])
		assert.Contains(t, lines[3], `"note":"note"`)
	})

	t.Run("should surface item failures reported by a bulk response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"took":1,"errors":true,"items":[{"index":{"_id":"x","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`))
		}))
		defer srv.Close()

		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
		assert.NoError(t, err)
		sink := NewElasticsearchSink(client.NewTraceClientImpl(es, client.Async), "idx", 100, clock.NewMock(), logger)
		assert.NoError(t, sink.Write(context.Background(), traceEntry("abcd", 0)))
		assert.ErrorIs(t, sink.Close(), client.ErrBulkItemsFailed)
	})
}

func TestDocumentId(t *testing.T) {
	t.Run("should leave notes without a document id", func(t *testing.T) {
		assert.Equal(t, "", DocumentId(model.LogEntry{Note: "n"}))
		assert.Equal(t, "p-session-3", DocumentId(traceEntry("p", 3)))
	})
}

func readLines(t *testing.T, path string) []string {
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer file.Close()
	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
