package audit

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/moolen/sleuth/internal/logging"
)

// DirSink writes each run's events to its own JSONL file inside a directory
// (see RunFilePath). Files are opened per event, so any number of runs can
// share one DirSink without holding descriptors open.
type DirSink struct {
	dir    string
	mu     sync.Mutex
	logger *logging.Logger
	errors int
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		return nil, errors.New("audit directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &DirSink{dir: dir, logger: logging.GetLogger("audit")}, nil
}

// Emit implements Sink.
func (d *DirSink) Emit(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.append(event); err != nil {
		d.errors++
		d.logger.Warn("Dropping audit event %s for run %s: %v", event.Type, event.RunID, err)
	}
}

func (d *DirSink) append(event Event) error {
	if event.RunID == "" {
		return errors.New("event has no run id")
	}
	f, err := NewFileSink(RunFilePath(d.dir, event.RunID))
	if err != nil {
		return err
	}
	if err := f.Write(event); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Path returns the audit file of a run.
func (d *DirSink) Path(runID string) string {
	return RunFilePath(d.dir, runID)
}

// Errors returns how many events could not be written.
func (d *DirSink) Errors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors
}
