package investigation

import (
	"fmt"
	"time"
)

// RunStatus is the state of an investigation.
//
//	started -> running -> completed | failed | escalated
//	running <-> paused
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunEscalated RunStatus = "escalated"
	RunPaused    RunStatus = "paused"
)

// IsTerminal reports whether no further steps may follow.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunEscalated
}

// ResolutionType names the terminal outcome of a Run.
type ResolutionType string

const (
	ResolutionMitigationProposed ResolutionType = "mitigation_proposed"
	ResolutionEscalated          ResolutionType = "escalated"
	ResolutionStepLimitReached   ResolutionType = "step_limit_reached"
)

// Resolution is the outcome payload attached to a finished Run.
type Resolution struct {
	Type             ResolutionType `json:"type"`
	Description      string         `json:"description,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	Confidence       float64        `json:"confidence,omitempty"`
	EscalationTarget string         `json:"escalation_target,omitempty"`
}

// MitigationProposed builds the resolution for a proposed fix.
func MitigationProposed(mitigation string, confidence float64) Resolution {
	return Resolution{Type: ResolutionMitigationProposed, Description: mitigation, Confidence: confidence}
}

// Escalated builds the resolution for a hand-off to humans.
func Escalated(reason, target string) Resolution {
	return Resolution{Type: ResolutionEscalated, Description: reason, Reason: reason, EscalationTarget: target}
}

// StepLimitReached builds the resolution for a run that ran out of steps.
func StepLimitReached(maxSteps int) Resolution {
	reason := fmt.Sprintf("step limit of %d reached without a resolution", maxSteps)
	return Resolution{Type: ResolutionStepLimitReached, Description: reason, Reason: reason}
}

const (
	// DefaultMaxSteps applies when a run is started without an explicit limit.
	DefaultMaxSteps = 20
	// MaxStepsLimit bounds configured defaults. An explicit limit given to
	// NewRun is kept as is.
	MaxStepsLimit = 50
)

// NormalizeMaxSteps returns n, or DefaultMaxSteps when n is not positive.
func NormalizeMaxSteps(n int) int {
	if n <= 0 {
		return DefaultMaxSteps
	}
	return n
}

// NormalizeDefaultMaxSteps is NormalizeMaxSteps for a configured default,
// which is also capped at MaxStepsLimit.
func NormalizeDefaultMaxSteps(n int) int {
	return min(NormalizeMaxSteps(n), MaxStepsLimit)
}

// Run is one investigation of an Incident.
//
// Run is a value: every transition returns a new Run and leaves the receiver
// as it was. Callers must keep only the most recent value.
type Run struct {
	id           string
	incident     Incident
	status       RunStatus
	steps        []Step
	observations []Observation
	hypothesis   *Hypothesis
	maxSteps     int
	startedAt    time.Time
	completedAt  *time.Time
	resolution   *Resolution
	clock        func() time.Time
}

// RunOption configures NewRun.
type RunOption func(*Run)

// WithClock sets the time source used for start and completion stamps.
func WithClock(now func() time.Time) RunOption {
	return func(r *Run) {
		if now != nil {
			r.clock = now
		}
	}
}

// NewRun returns a Run in status started. maxSteps is normalised with
// NormalizeMaxSteps.
func NewRun(id string, incident Incident, maxSteps int, opts ...RunOption) Run {
	r := Run{
		id:       id,
		incident: incident,
		status:   RunStarted,
		maxSteps: NormalizeMaxSteps(maxSteps),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&r)
	}
	if r.id == "" {
		r.id = NewID("run")
	}
	r.startedAt = r.clock()
	return r
}

func (r Run) ID() string           { return r.id }
func (r Run) Incident() Incident   { return r.incident }
func (r Run) Status() RunStatus    { return r.status }
func (r Run) MaxSteps() int        { return r.maxSteps }
func (r Run) StartedAt() time.Time { return r.startedAt }
func (r Run) StepCount() int       { return len(r.steps) }
func (r Run) IsTerminal() bool     { return r.status.IsTerminal() }

// Steps returns the steps in execution order.
func (r Run) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// LastStep returns the most recent step.
func (r Run) LastStep() (Step, bool) {
	if len(r.steps) == 0 {
		return Step{}, false
	}
	return r.steps[len(r.steps)-1], true
}

// Observations returns the observations in recording order.
func (r Run) Observations() []Observation {
	out := make([]Observation, len(r.observations))
	copy(out, r.observations)
	return out
}

// SignificantObservations returns the significant observations in recording order.
func (r Run) SignificantObservations() []Observation {
	var out []Observation
	for _, o := range r.observations {
		if o.Significant {
			out = append(out, o)
		}
	}
	return out
}

// Hypothesis returns the current hypothesis, or nil when there is none.
func (r Run) Hypothesis() *Hypothesis {
	if r.hypothesis == nil {
		return nil
	}
	h := *r.hypothesis
	return &h
}

// Resolution returns the terminal outcome, or nil while the run is open.
func (r Run) Resolution() *Resolution {
	if r.resolution == nil {
		return nil
	}
	res := *r.resolution
	return &res
}

// CompletedAt is set once the run reached a terminal status.
func (r Run) CompletedAt() (time.Time, bool) {
	if r.completedAt == nil {
		return time.Time{}, false
	}
	return *r.completedAt, true
}

// Duration is only defined once the run has a completion time.
func (r Run) Duration() (time.Duration, bool) {
	if r.completedAt == nil {
		return 0, false
	}
	return r.completedAt.Sub(r.startedAt), true
}

// DurationSeconds is Duration expressed in seconds.
func (r Run) DurationSeconds() (float64, bool) {
	d, ok := r.Duration()
	return d.Seconds(), ok
}

// StepLimitReached reports whether the step budget is used up.
func (r Run) StepLimitReached() bool {
	return len(r.steps) >= r.maxSteps
}

// CanContinue reports whether another step may be executed.
func (r Run) CanContinue() bool {
	return (r.status == RunStarted || r.status == RunRunning) && !r.StepLimitReached()
}

// AddStep appends a step and moves a started run to running.
// Adding a step to a terminal run is a programming error and panics.
func (r Run) AddStep(step Step) Run {
	if r.IsTerminal() {
		panic(fmt.Sprintf("investigation: AddStep on terminal run %s (status %s)", r.id, r.status))
	}
	next := r.clone()
	next.steps = append(next.steps, step)
	if next.status == RunStarted {
		next.status = RunRunning
	}
	return next
}

// AddObservation appends an observation.
func (r Run) AddObservation(obs Observation) Run {
	next := r.clone()
	next.observations = append(next.observations, obs)
	return next
}

// WithHypothesis replaces the current hypothesis.
func (r Run) WithHypothesis(h Hypothesis) Run {
	next := r.clone()
	next.hypothesis = &h
	return next
}

// WithStatus sets the status. Entering a terminal status stamps the
// completion time unless one is already set.
func (r Run) WithStatus(status RunStatus) Run {
	next := r.clone()
	next.status = status
	if status.IsTerminal() && next.completedAt == nil {
		t := next.clock()
		next.completedAt = &t
	}
	return next
}

// WithResolution stores the resolution and always moves the run to
// completed. Escalations and failures set their status explicitly afterwards.
func (r Run) WithResolution(res Resolution) Run {
	next := r.clone()
	next.resolution = &res
	return next.WithStatus(RunCompleted)
}

// Pause suspends a running investigation for human review.
func (r Run) Pause() (Run, error) {
	if r.status != RunRunning {
		return Run{}, &WorkflowError{RunID: r.id, Status: r.status, Reason: "only running runs can be paused", kind: ErrInvalidTransition}
	}
	return r.WithStatus(RunPaused), nil
}

// Resume returns a paused investigation to running.
func (r Run) Resume() (Run, error) {
	if r.status != RunPaused {
		return Run{}, &WorkflowError{RunID: r.id, Status: r.status, Reason: "only paused runs can be resumed", kind: ErrInvalidTransition}
	}
	return r.WithStatus(RunRunning), nil
}

// ObservationByID looks up a recorded observation.
func (r Run) ObservationByID(id string) (Observation, bool) {
	for _, o := range r.observations {
		if o.ID == id {
			return o, true
		}
	}
	return Observation{}, false
}

// clone copies the slices so appends on the result never alias the receiver.
func (r Run) clone() Run {
	next := r
	next.steps = make([]Step, len(r.steps), len(r.steps)+1)
	copy(next.steps, r.steps)
	next.observations = make([]Observation, len(r.observations), len(r.observations)+1)
	copy(next.observations, r.observations)
	return next
}
