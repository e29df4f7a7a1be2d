// Package metrics exposes investigation activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/moolen/sleuth/internal/audit"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeEscalated = "escalated"
	OutcomeFailed    = "failed"
)

// Metrics holds Prometheus metrics for investigation runs. It implements
// audit.Sink, so it observes the engine through the event stream.
type Metrics struct {
	RunsStarted      prometheus.Counter       // Runs begun
	Steps            *prometheus.CounterVec   // Completed steps by status
	ToolCalls        *prometheus.CounterVec   // Tool invocations by tool and success
	ToolCallDuration *prometheus.HistogramVec // Tool execution time by tool
	RunsFinished     *prometheus.CounterVec   // Terminal runs by outcome
}

// NewMetrics creates and registers the investigation metrics.
// The registerer parameter allows flexible registration (e.g., global registry, test registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_runs_started_total",
			Help: "Total number of investigation runs started",
		}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_steps_total",
			Help: "Total number of investigation steps by final step status",
		}, []string{"status"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome",
		}, []string{"tool", "success"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sleuth_tool_call_duration_seconds",
			Help:    "Tool execution time",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"tool"}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sleuth_runs_finished_total",
			Help: "Total number of finished runs by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.RunsStarted)
	reg.MustRegister(m.Steps)
	reg.MustRegister(m.ToolCalls)
	reg.MustRegister(m.ToolCallDuration)
	reg.MustRegister(m.RunsFinished)
	return m
}

// Emit implements audit.Sink.
func (m *Metrics) Emit(e audit.Event) {
	switch e.Type {
	case audit.EventRunStarted:
		m.RunsStarted.Inc()
	case audit.EventStepCompleted:
		m.Steps.WithLabelValues(stringField(e.Data, "status")).Inc()
	case audit.EventToolResultReceived:
		tool := stringField(e.Data, "tool_name")
		success, _ := e.Data["success"].(bool)
		m.ToolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
		if ms, ok := number(e.Data["execution_time_ms"]); ok {
			m.ToolCallDuration.WithLabelValues(tool).Observe(ms / 1000)
		}
	case audit.EventRunCompleted:
		m.RunsFinished.WithLabelValues(OutcomeCompleted).Inc()
	case audit.EventRunEscalated:
		m.RunsFinished.WithLabelValues(OutcomeEscalated).Inc()
	case audit.EventRunFailed:
		m.RunsFinished.WithLabelValues(OutcomeFailed).Inc()
	}
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case nil:
		return "unknown"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// number accepts the integer types the engine emits and the float64 that
// JSON decoding produces.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
