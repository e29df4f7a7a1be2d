package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/moolen/sleuth/internal/engine"
	"github.com/moolen/sleuth/internal/investigation"
)

// ErrScriptExhausted is returned when a run asks for a step the script does
// not define and RepeatLast is off.
var ErrScriptExhausted = errors.New("scenario script exhausted")

// ScriptedAgent answers the engine from a Script keyed by step number.
// It remembers the last decision to pick the matching analysis, so one
// instance serves one run at a time.
type ScriptedAgent struct {
	script Script

	mu      sync.Mutex
	current int
}

// NewScriptedAgent returns an agent playing script.
func NewScriptedAgent(script Script) *ScriptedAgent {
	return &ScriptedAgent{script: script, current: -1}
}

// DecideNextAction implements engine.Agent.
func (a *ScriptedAgent) DecideNextAction(ctx context.Context, _ investigation.Incident, _ []investigation.Observation, _ *investigation.Hypothesis, step int) (engine.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := step - 1
	if idx < 0 {
		return nil, fmt.Errorf("invalid step number %d", step)
	}
	if idx >= len(a.script.Steps) {
		if !a.script.RepeatLast || len(a.script.Steps) == 0 {
			return nil, fmt.Errorf("%w: no decision for step %d (script has %d)", ErrScriptExhausted, step, len(a.script.Steps))
		}
		idx = len(a.script.Steps) - 1
	}

	a.mu.Lock()
	a.current = idx
	a.mu.Unlock()

	s := a.script.Steps[idx]
	switch s.Action {
	case ActionCallTool:
		return engine.CallTool{ToolName: s.Tool, Params: s.Params, Reasoning: s.Reasoning}, nil
	case ActionProposeMitigation:
		return engine.ProposeMitigation{Mitigation: s.Mitigation, Confidence: s.Confidence, Reasoning: s.Reasoning}, nil
	case ActionEscalate:
		return engine.Escalate{Reason: s.Reason, EscalationTarget: s.Target, Reasoning: s.Reasoning}, nil
	default:
		return nil, fmt.Errorf("step %d: unknown action %q", step, s.Action)
	}
}

// AnalyzeResult implements engine.Agent. Steps without a scripted analysis
// produce a plain, insignificant summary of the result.
func (a *ScriptedAgent) AnalyzeResult(ctx context.Context, result investigation.ToolResult, _ investigation.Incident, _ *investigation.Hypothesis) (engine.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return engine.Analysis{}, err
	}

	a.mu.Lock()
	idx := a.current
	a.mu.Unlock()
	if idx < 0 {
		return engine.Analysis{}, errors.New("AnalyzeResult called before DecideNextAction")
	}

	s := a.script.Steps[idx]
	spec := s.Analysis
	if !result.Success && s.OnFailure != nil {
		spec = s.OnFailure
	}
	if spec == nil {
		return engine.Analysis{Observation: summarize(result)}, nil
	}

	analysis := engine.Analysis{Observation: spec.Observation, Significant: spec.Significant}
	if analysis.Observation == "" {
		analysis.Observation = summarize(result)
	}
	if h := spec.Hypothesis; h != nil {
		analysis.HypothesisUpdate = &engine.HypothesisUpdate{Description: h.Description, Confidence: h.Confidence}
	}
	return analysis, nil
}

const maxSummaryLen = 200

func summarize(result investigation.ToolResult) string {
	if !result.Success {
		if len(result.Errors) == 0 {
			return fmt.Sprintf("%s failed", result.ToolName)
		}
		return fmt.Sprintf("%s failed: %s", result.ToolName, strings.Join(result.Errors, "; "))
	}
	if result.Data == nil {
		return fmt.Sprintf("%s returned no data", result.ToolName)
	}
	s := fmt.Sprintf("%s returned %v", result.ToolName, result.Data)
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen] + "..."
	}
	return s
}
