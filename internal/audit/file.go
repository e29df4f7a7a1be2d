package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moolen/sleuth/internal/logging"
)

// FileSink writes audit events to a JSONL file.
type FileSink struct {
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
	logger *logging.Logger
	errors int
}

// NewFileSink creates a sink that appends to the file at filePath.
// Parent directories are created when missing.
func NewFileSink(filePath string) (*FileSink, error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	// #nosec G304 -- Audit log path is intentionally configurable by user
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileSink{
		file:   file,
		writer: bufio.NewWriter(file),
		logger: logging.GetLogger("audit"),
	}, nil
}

// RunFilePath is the per-run audit file inside dir.
func RunFilePath(dir, runID string) string {
	return filepath.Join(dir, runID+".jsonl")
}

// Emit implements Sink. Write failures are logged and counted.
func (f *FileSink) Emit(event Event) {
	if err := f.Write(event); err != nil {
		f.mutex.Lock()
		f.errors++
		f.mutex.Unlock()
		f.logger.Warn("Dropping audit event %s for run %s: %v", event.Type, event.RunID, err)
	}
}

// Write appends one event and flushes it.
func (f *FileSink) Write(event Event) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for crash safety
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit log: %w", err)
	}

	return nil
}

// Errors returns how many events could not be written.
func (f *FileSink) Errors() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.errors
}

// Close flushes pending writes and closes the file.
func (f *FileSink) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var errs []error

	if err := f.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush audit log: %w", err))
	}

	if err := f.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit log file: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing audit log: %v", errs)
	}

	return nil
}

// ReadFile loads every event from a JSONL audit file.
func ReadFile(filePath string) ([]Event, error) {
	// #nosec G304 -- reading back a file this package wrote
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal audit event: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}
