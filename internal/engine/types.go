package engine

import (
	"context"
	"errors"

	"github.com/moolen/sleuth/internal/investigation"
)

// ErrUnknownDecision is returned when the agent hands back a Decision the
// engine does not know how to execute.
var ErrUnknownDecision = errors.New("unknown decision")

// Decision is what the agent wants to do next. The set of variants is closed:
// CallTool, ProposeMitigation and Escalate. Pointers to a variant are
// accepted and treated like the value; a nil pointer is an unknown decision.
type Decision interface {
	// Kind names the variant for events and logs.
	Kind() string
	isDecision()
}

// CallTool asks the engine to run a diagnostic tool.
type CallTool struct {
	ToolName  string
	Params    map[string]interface{}
	Reasoning string
}

// ProposeMitigation ends the investigation with a fix.
type ProposeMitigation struct {
	Mitigation string
	Confidence float64
	Reasoning  string
}

// Escalate hands the investigation to humans.
type Escalate struct {
	Reason           string
	EscalationTarget string
	Reasoning        string
}

func (CallTool) Kind() string          { return "call_tool" }
func (ProposeMitigation) Kind() string { return "propose_mitigation" }
func (Escalate) Kind() string          { return "escalate" }

func (CallTool) isDecision()          {}
func (ProposeMitigation) isDecision() {}
func (Escalate) isDecision()          {}

// HypothesisUpdate is the agent's revised theory after looking at a result.
type HypothesisUpdate struct {
	Description string
	Confidence  float64
}

// Analysis is the agent's reading of one tool result.
type Analysis struct {
	Observation      string
	Significant      bool
	HypothesisUpdate *HypothesisUpdate
}

// Agent drives the investigation.
type Agent interface {
	DecideNextAction(ctx context.Context, incident investigation.Incident, observations []investigation.Observation, hypothesis *investigation.Hypothesis, step int) (Decision, error)
	AnalyzeResult(ctx context.Context, result investigation.ToolResult, incident investigation.Incident, hypothesis *investigation.Hypothesis) (Analysis, error)
}

// ToolRegistry runs diagnostic tools by name. A tool that ran but failed is
// reported with Success=false; an error means the call itself was invalid,
// for example an unknown tool name.
type ToolRegistry interface {
	Call(ctx context.Context, toolName string, params map[string]interface{}) (investigation.ToolResult, error)
}

// valueOf turns a pointer variant into its value. Nil pointers yield nil.
func valueOf(d Decision) Decision {
	switch p := d.(type) {
	case *CallTool:
		if p != nil {
			return *p
		}
		return nil
	case *ProposeMitigation:
		if p != nil {
			return *p
		}
		return nil
	case *Escalate:
		if p != nil {
			return *p
		}
		return nil
	}
	return d
}
