// Package scenario loads YAML investigation scenarios: an incident, canned
// tool responses, a scripted agent and the ground truth used for scoring.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/moolen/sleuth/internal/evaluator"
	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/tools"
)

// SupportedSchemaVersions is the constraint every scenario file must satisfy.
const SupportedSchemaVersions = ">= 1.0, < 2.0"

var supportedSchema = version.MustConstraints(version.NewConstraint(SupportedSchemaVersions))

// Script actions.
const (
	ActionCallTool          = "call_tool"
	ActionProposeMitigation = "propose_mitigation"
	ActionEscalate          = "escalate"
)

// Scenario defines one reproducible investigation.
type Scenario struct {
	// SchemaVersion of the file format, e.g. "1.0".
	SchemaVersion string `yaml:"schema_version"`

	// Name is the scenario identifier.
	Name string `yaml:"name"`

	// Description is a human-readable description of the incident.
	Description string `yaml:"description,omitempty"`

	Incident IncidentSpec `yaml:"incident"`

	// MaxSteps is the run's step budget. Zero uses the engine default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Tools defines canned responses keyed by tool name.
	Tools map[string]ToolSpec `yaml:"tools,omitempty"`

	Script Script `yaml:"script"`

	GroundTruth     evaluator.GroundTruth     `yaml:"ground_truth"`
	SuccessCriteria evaluator.SuccessCriteria `yaml:"success_criteria,omitempty"`

	path string
}

// IncidentSpec is the incident as written in a scenario file.
type IncidentSpec struct {
	ID          string            `yaml:"id,omitempty"`
	Service     string            `yaml:"service"`
	Description string            `yaml:"description"`
	Severity    string            `yaml:"severity"`
	Tags        map[string]string `yaml:"tags,omitempty"`
	// CreatedAt accepts RFC3339, Unix seconds or relative forms like "now-15m".
	CreatedAt string `yaml:"created_at,omitempty"`
}

// ToolSpec defines the canned behaviour of one tool.
type ToolSpec struct {
	Description string `yaml:"description,omitempty"`

	// DelayMs is an optional delay before every response.
	DelayMs int `yaml:"delay_ms,omitempty"`

	// Responses are returned in order; the last one repeats.
	Responses []tools.Result `yaml:"responses"`
}

// Script drives the scripted agent.
type Script struct {
	// RepeatLast keeps answering with the last step once the script is used up.
	RepeatLast bool         `yaml:"repeat_last,omitempty"`
	Steps      []ScriptStep `yaml:"steps"`
}

// ScriptStep is the agent's decision for one step number.
type ScriptStep struct {
	Action    string `yaml:"action"`
	Reasoning string `yaml:"reasoning,omitempty"`

	// call_tool
	Tool   string                 `yaml:"tool,omitempty"`
	Params map[string]interface{} `yaml:"params,omitempty"`

	// propose_mitigation
	Mitigation string  `yaml:"mitigation,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`

	// escalate
	Reason string `yaml:"reason,omitempty"`
	Target string `yaml:"target,omitempty"`

	// Analysis is the agent's reading of the tool result.
	Analysis *AnalysisSpec `yaml:"analysis,omitempty"`
	// OnFailure replaces Analysis when the tool reports a failure.
	OnFailure *AnalysisSpec `yaml:"on_failure,omitempty"`
}

// AnalysisSpec is a scripted Analysis.
type AnalysisSpec struct {
	Observation string          `yaml:"observation"`
	Significant bool            `yaml:"significant,omitempty"`
	Hypothesis  *HypothesisSpec `yaml:"hypothesis,omitempty"`
}

// HypothesisSpec is a scripted hypothesis update.
type HypothesisSpec struct {
	Description string  `yaml:"description"`
	Confidence  float64 `yaml:"confidence"`
}

// Path is the file the scenario was loaded from, if any.
func (s *Scenario) Path() string {
	return s.path
}

// Validate checks the scenario for structural errors.
func (s *Scenario) Validate() error {
	if s.SchemaVersion == "" {
		return errors.New("schema_version is required")
	}
	v, err := version.NewVersion(s.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", s.SchemaVersion, err)
	}
	if !supportedSchema.Check(v) {
		return fmt.Errorf("schema_version %s is not supported (need %s)", s.SchemaVersion, SupportedSchemaVersions)
	}

	if s.Name == "" {
		return errors.New("name is required")
	}
	if _, err := s.BuildIncident(time.Now()); err != nil {
		return fmt.Errorf("incident: %w", err)
	}
	if s.MaxSteps < 0 || s.MaxSteps > investigation.MaxStepsLimit {
		return fmt.Errorf("max_steps must be between 0 and %d, got %d", investigation.MaxStepsLimit, s.MaxSteps)
	}

	for name, spec := range s.Tools {
		if spec.DelayMs < 0 {
			return fmt.Errorf("tools.%s: delay_ms must be >= 0", name)
		}
	}

	if len(s.Script.Steps) == 0 {
		return errors.New("script must have at least one step")
	}
	for i, step := range s.Script.Steps {
		if err := s.validateStep(step); err != nil {
			return fmt.Errorf("script step %d: %w", i+1, err)
		}
	}

	if s.GroundTruth.CorrectMitigation == "" {
		return errors.New("ground_truth.correct_mitigation is required")
	}
	if s.SuccessCriteria.MaxSteps < 0 {
		return errors.New("success_criteria.max_steps must be >= 0")
	}
	return nil
}

func (s *Scenario) validateStep(step ScriptStep) error {
	switch step.Action {
	case ActionCallTool:
		if step.Tool == "" {
			return errors.New("call_tool requires tool")
		}
		if _, ok := s.Tools[step.Tool]; !ok {
			return fmt.Errorf("tool %q is not defined under tools", step.Tool)
		}
		for _, a := range []*AnalysisSpec{step.Analysis, step.OnFailure} {
			if a != nil && a.Hypothesis != nil {
				if err := validConfidence(a.Hypothesis.Confidence); err != nil {
					return fmt.Errorf("hypothesis: %w", err)
				}
			}
		}
	case ActionProposeMitigation:
		if step.Mitigation == "" {
			return errors.New("propose_mitigation requires mitigation")
		}
		if err := validConfidence(step.Confidence); err != nil {
			return err
		}
	case ActionEscalate:
		if step.Reason == "" {
			return errors.New("escalate requires reason")
		}
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q (must be %s, %s or %s)", step.Action, ActionCallTool, ActionProposeMitigation, ActionEscalate)
	}
	return nil
}

func validConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %v", c)
	}
	return nil
}

// BuildIncident converts the incident spec, resolving relative timestamps
// against now.
func (s *Scenario) BuildIncident(now time.Time) (investigation.Incident, error) {
	created, err := ParseTimestamp(s.Incident.CreatedAt, now)
	if err != nil {
		return investigation.Incident{}, fmt.Errorf("created_at: %w", err)
	}
	id := s.Incident.ID
	if id == "" && s.Name != "" {
		id = "inc-" + s.Name
	}
	return investigation.NewIncident(id, s.Incident.Service, s.Incident.Description,
		investigation.Severity(s.Incident.Severity), s.Incident.Tags, created)
}

// Registry builds a tool registry serving the scenario's canned responses.
func (s *Scenario) Registry(opts tools.Options) (*tools.Registry, error) {
	canned := make([]tools.Tool, 0, len(s.Tools))
	for name, spec := range s.Tools {
		canned = append(canned, tools.NewCannedTool(name, spec.Description,
			time.Duration(spec.DelayMs)*time.Millisecond, spec.Responses...))
	}
	return tools.NewRegistry(opts, canned...)
}

// Agent returns a fresh scripted agent for one run of the scenario.
func (s *Scenario) Agent() *ScriptedAgent {
	return NewScriptedAgent(s.Script)
}
