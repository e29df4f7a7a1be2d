package audit

import (
	"github.com/moolen/sleuth/internal/logging"
)

// LogSink writes events to a structured logger. Terminal events are logged
// at INFO, everything else at DEBUG.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a LogSink writing to the named logger.
func NewLogSink(name string) *LogSink {
	if name == "" {
		name = "audit"
	}
	return &LogSink{logger: logging.GetLogger(name)}
}

// Emit implements Sink.
func (l *LogSink) Emit(event Event) {
	fields := make([]logging.LogField, 0, len(event.Data)+2)
	fields = append(fields, logging.Field("run_id", event.RunID))
	if event.StepID != "" {
		fields = append(fields, logging.Field("step_id", event.StepID))
	}
	for k, v := range event.Data {
		fields = append(fields, logging.Field(k, v))
	}

	if event.IsTerminal() {
		l.logger.InfoWithFields(string(event.Type), fields...)
		return
	}
	l.logger.DebugWithFields(string(event.Type), fields...)
}
