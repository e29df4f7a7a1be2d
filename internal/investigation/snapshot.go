package investigation

import "time"

// RunSnapshot is a serialisable view of a Run used for persistence and reports.
type RunSnapshot struct {
	ID           string        `json:"id"`
	Incident     Incident      `json:"incident"`
	Status       RunStatus     `json:"status"`
	Steps        []Step        `json:"steps"`
	Observations []Observation `json:"observations"`
	Hypothesis   *Hypothesis   `json:"hypothesis,omitempty"`
	MaxSteps     int           `json:"max_steps"`
	StepCount    int           `json:"step_count"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Resolution   *Resolution   `json:"resolution,omitempty"`
}

// Snapshot captures the run's current state.
func (r Run) Snapshot() RunSnapshot {
	s := RunSnapshot{
		ID:           r.id,
		Incident:     r.incident,
		Status:       r.status,
		Steps:        r.Steps(),
		Observations: r.Observations(),
		Hypothesis:   r.Hypothesis(),
		MaxSteps:     r.maxSteps,
		StepCount:    len(r.steps),
		StartedAt:    r.startedAt,
		Resolution:   r.Resolution(),
	}
	if t, ok := r.CompletedAt(); ok {
		s.CompletedAt = &t
	}
	return s
}
