package log_sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	LogFileExtension    = ".log"
	DefaultMaxOpenFiles = 256
)

// FileSink appends newline-delimited JSON to <folder>/<peerId>.log, one file per peer. At most
// maxOpenFiles handles stay open; the least recently written one is closed to make room.
type FileSink struct {
	folder   string
	logger   *zap.Logger
	mu       sync.Mutex
	files    *lru.Cache[string, *os.File]
	closeErr error
	closed   bool
}

func NewFileSink(folder string, maxOpenFiles int, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log folder %s: %w", folder, err)
	}
	if maxOpenFiles <= 0 {
		maxOpenFiles = DefaultMaxOpenFiles
	}
	fs := &FileSink{
		folder: folder,
		logger: logger,
	}
	files, err := lru.NewWithEvict[string, *os.File](maxOpenFiles, fs.closeFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create open file cache: %w", err)
	}
	fs.files = files
	return fs, nil
}

func (fs *FileSink) Write(ctx context.Context, entry model.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry for peer %s: %w", entry.PeerId, err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrSinkClosed
	}
	file, err := fs.fileFor(entry.PeerId)
	if err != nil {
		return err
	}
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to append to log file of peer %s: %w", entry.PeerId, err)
	}
	return nil
}

func (fs *FileSink) fileFor(peerId string) (*os.File, error) {
	if file, ok := fs.files.Get(peerId); ok {
		return file, nil
	}
	if peerId == "" || filepath.Base(peerId) != peerId {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeerId, peerId)
	}
	path := filepath.Join(fs.folder, peerId+LogFileExtension)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	fs.logger.Debug("Opened peer log file", zap.String("path", path))
	fs.files.Add(peerId, file)
	return file, nil
}

// OpenFiles reports how many peer log files are currently held open.
func (fs *FileSink) OpenFiles() int {
	return fs.files.Len()
}

// closeFile runs with fs.mu held, from Add on eviction and from Purge on Close.
func (fs *FileSink) closeFile(peerId string, file *os.File) {
	if err := file.Close(); err != nil {
		fs.logger.Warn("Failed to close peer log file", zap.String("peer_id", peerId), zap.Error(err))
		fs.closeErr = multierr.Append(fs.closeErr, fmt.Errorf("failed to close log file of peer %s: %w", peerId, err))
		return
	}
	fs.logger.Debug("Closed peer log file", zap.String("peer_id", peerId))
}

func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	fs.files.Purge()
	err := fs.closeErr
	fs.closeErr = nil
	return err
}

var ErrInvalidPeerId = errors.New("peer id cannot be used as a file name")
