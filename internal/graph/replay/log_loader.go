package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Avi18971911/Swarmtrace/internal/db/log_sink"
	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
	"go.uber.org/zap"
)

const maxLineSize = 16 * 1024 * 1024

type Adder interface {
	Add(entry model.LogEntry)
	ClearConnections(peerId string)
}

// LoadDirectory reads every .log file in dir and merges their entries by time. Entries without
// a user id get User-<n>, n being the file's 1-based position in name order, and entries without
// a peer id get the file's base name.
func LoadDirectory(dir string, logger *zap.Logger) ([]model.LogEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory %s: %w", dir, err)
	}

	var entries []model.LogEntry
	index := 0
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), log_sink.LogFileExtension) {
			continue
		}
		index++
		path := filepath.Join(dir, dirEntry.Name())
		peerId := strings.TrimSuffix(dirEntry.Name(), log_sink.LogFileExtension)
		fileEntries, err := loadFile(path, peerId, fmt.Sprintf("User-%d", index), logger)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func loadFile(path string, peerId string, defaultUserId string, logger *zap.Logger) ([]model.LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer file.Close()

	var entries []model.LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry model.LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn("Skipping unparsable log line",
				zap.String("path", path),
				zap.Int("line", lineNumber),
				zap.Error(err),
			)
			continue
		}
		if entry.UserId == "" {
			entry.UserId = defaultUserId
		}
		if entry.PeerId == "" {
			entry.PeerId = peerId
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file %s: %w", path, err)
	}
	return entries, nil
}

// Replay feeds entries to the adder in order and returns how many were trace events. A peer
// whose trace session changes has its connections cleared first, as the live server does when
// a peer restarts.
func Replay(entries []model.LogEntry, adder Adder) int {
	events := 0
	sessions := make(map[string]string)
	for _, entry := range entries {
		if entry.IsNote() {
			continue
		}
		if entry.PeerId != "" {
			previous, seen := sessions[entry.PeerId]
			if seen && previous != entry.TraceSessionId {
				adder.ClearConnections(entry.PeerId)
			}
			sessions[entry.PeerId] = entry.TraceSessionId
		}
		adder.Add(entry)
		events++
	}
	return events
}
