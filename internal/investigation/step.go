package investigation

import "time"

// StepStatus is the lifecycle state of a single decision cycle.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// ToolCall describes the tool the agent asked for.
type ToolCall struct {
	ToolName string                 `json:"tool_name"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// ToolResult is what the tool registry reported back. Success=false is a
// tool-level failure and is carried as data, not as an error.
type ToolResult struct {
	Success         bool        `json:"success"`
	ToolName        string      `json:"tool_name"`
	Data            interface{} `json:"data,omitempty"`
	Errors          []string    `json:"errors,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
}

// Step records one decision cycle of a Run. Transitions return new values.
type Step struct {
	ID               string      `json:"id"`
	RunID            string      `json:"run_id"`
	Number           int         `json:"number"`
	Decision         string      `json:"decision"`
	ToolCall         *ToolCall   `json:"tool_call,omitempty"`
	ToolResult       *ToolResult `json:"tool_result,omitempty"`
	Observation      string      `json:"observation,omitempty"`
	HypothesisBefore *Hypothesis `json:"hypothesis_before,omitempty"`
	HypothesisAfter  *Hypothesis `json:"hypothesis_after,omitempty"`
	Status           StepStatus  `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// NewStep returns a pending step.
func NewStep(id, runID string, number int, decision string, createdAt time.Time) Step {
	return Step{
		ID:        id,
		RunID:     runID,
		Number:    number,
		Decision:  decision,
		Status:    StepPending,
		CreatedAt: createdAt,
	}
}

// WithToolCall returns a copy recording the requested tool call.
func (s Step) WithToolCall(toolName string, params map[string]interface{}) Step {
	s.ToolCall = &ToolCall{ToolName: toolName, Params: cloneParams(params)}
	return s
}

// WithToolResult returns a copy recording the tool result.
func (s Step) WithToolResult(result ToolResult) Step {
	r := result
	if result.Errors != nil {
		r.Errors = append([]string(nil), result.Errors...)
	}
	s.ToolResult = &r
	return s
}

// WithObservation returns a copy carrying the observation text.
func (s Step) WithObservation(text string) Step {
	s.Observation = text
	return s
}

// WithHypotheses records the hypothesis before and after the step. Nil means
// there was none.
func (s Step) WithHypotheses(before, after *Hypothesis) Step {
	s.HypothesisBefore = before
	s.HypothesisAfter = after
	return s
}

// Executing marks the step as in progress.
func (s Step) Executing() Step {
	s.Status = StepExecuting
	return s
}

// Complete marks the step completed at t.
func (s Step) Complete(t time.Time) Step {
	return s.finish(StepCompleted, t)
}

// Fail marks the step failed at t.
func (s Step) Fail(t time.Time) Step {
	return s.finish(StepFailed, t)
}

func (s Step) finish(status StepStatus, t time.Time) Step {
	s.Status = status
	s.CompletedAt = &t
	return s
}

// IsFinished reports whether the step completed or failed.
func (s Step) IsFinished() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// Duration is only defined once the step has a completion time.
func (s Step) Duration() (time.Duration, bool) {
	if s.CompletedAt == nil {
		return 0, false
	}
	return s.CompletedAt.Sub(s.CreatedAt), true
}
