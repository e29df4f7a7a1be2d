package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	outputMu sync.Mutex
	stdout   io.Writer = os.Stdout
	stderr   io.Writer = os.Stderr
)

// SetOutput redirects log lines. DEBUG/INFO/WARN go to out, ERROR/FATAL to errOut.
// A nil writer restores the process default.
func SetOutput(out, errOut io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout = out
	stderr = errOut
}

// writeLog formats one line: "[ts] [LEVEL] name: msg | k=v ...".
// Field keys are sorted so output is stable.
func (l *Logger) writeLog(level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	outputMu.Lock()
	defer outputMu.Unlock()
	if level == strError || level == levelFatal {
		_, _ = io.WriteString(stderr, b.String())
		return
	}
	_, _ = io.WriteString(stdout, b.String())
}

// logf formats msg with args and writes it with the logger's fields.
func (l *Logger) logf(level, msg string, args ...interface{}) {
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	l.writeLog(level, formatted, l.mergedFields())
}

// GetTimestamp returns the current time in RFC3339.
// LOG_TIMESTAMP overrides it for deterministic test output.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}
