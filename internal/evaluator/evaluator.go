// Package evaluator scores a finished investigation against a scenario's
// ground truth. Evaluation is a pure function of its inputs and is safe to
// call concurrently.
package evaluator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/moolen/sleuth/internal/investigation"
)

// ErrInvalidConfig is matched by errors returned from Config.Validate.
var ErrInvalidConfig = errors.New("invalid evaluator config")

// GroundTruth is what actually happened in a scenario.
type GroundTruth struct {
	RootCause         string   `yaml:"root_cause" json:"root_cause"`
	CorrectMitigation string   `yaml:"correct_mitigation" json:"correct_mitigation"`
	KeyEvidence       []string `yaml:"key_evidence" json:"key_evidence,omitempty"`
}

// SuccessCriteria tunes how strictly a run is judged.
type SuccessCriteria struct {
	MustIdentify          []string `yaml:"must_identify" json:"must_identify,omitempty"`
	AcceptableMitigations []string `yaml:"acceptable_mitigations" json:"acceptable_mitigations,omitempty"`
	// MaxSteps is the efficiency budget. Zero falls back to the run's limit.
	MaxSteps int `yaml:"max_steps" json:"max_steps,omitempty"`
}

// Weights combine the partial scores. They must sum to 1.
type Weights struct {
	Mitigation float64 `yaml:"mitigation" json:"mitigation"`
	Evidence   float64 `yaml:"evidence" json:"evidence"`
	Efficiency float64 `yaml:"efficiency" json:"efficiency"`
}

// DefaultWeights favours the fix over the path taken to it.
func DefaultWeights() Weights {
	return Weights{Mitigation: 0.5, Evidence: 0.3, Efficiency: 0.2}
}

const weightTolerance = 1e-6

// Validate rejects negative weights and weights that do not sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"mitigation": w.Mitigation, "evidence": w.Evidence, "efficiency": w.Efficiency} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: weight %s must be >= 0, got %v", ErrInvalidConfig, name, v)
		}
	}
	if sum := w.Mitigation + w.Evidence + w.Efficiency; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights must sum to 1.0, got %.4f", ErrInvalidConfig, sum)
	}
	return nil
}

// Config parameterises an Evaluator.
type Config struct {
	Weights Weights
	// SuccessThreshold must be exceeded by the overall score for success.
	SuccessThreshold float64
	// AcceptableMitigationScore is awarded for an acceptable, but not the
	// correct, mitigation.
	AcceptableMitigationScore float64
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		Weights:                   DefaultWeights(),
		SuccessThreshold:          0.5,
		AcceptableMitigationScore: 0.5,
	}
}

// Validate checks weights and the two score parameters.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold >= 1 {
		return fmt.Errorf("%w: success threshold must be in [0,1), got %v", ErrInvalidConfig, c.SuccessThreshold)
	}
	if c.AcceptableMitigationScore <= 0 || c.AcceptableMitigationScore >= 1 {
		return fmt.Errorf("%w: acceptable mitigation score must be in (0,1), got %v", ErrInvalidConfig, c.AcceptableMitigationScore)
	}
	return nil
}

// Breakdown holds the partial scores, each in [0,1].
type Breakdown struct {
	Mitigation float64 `json:"mitigation_score"`
	Evidence   float64 `json:"evidence_score"`
	Efficiency float64 `json:"efficiency_score"`
}

// Result is the verdict for one run.
type Result struct {
	Success   bool      `json:"success"`
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	// RootCauseIdentified and Unidentified are informational and do not
	// affect Score.
	RootCauseIdentified bool     `json:"root_cause_identified"`
	Unidentified        []string `json:"unidentified,omitempty"`
}

// Evaluator scores runs.
type Evaluator struct {
	cfg Config
}

// New returns an Evaluator for a validated config.
func New(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

// Default returns an Evaluator using DefaultConfig.
func Default() *Evaluator {
	return &Evaluator{cfg: DefaultConfig()}
}

// Config returns the scoring parameters.
func (e *Evaluator) Config() Config {
	return e.cfg
}

// Evaluate scores run. Only a completed run with a proposed mitigation can
// succeed; escalated, failed and unfinished runs still get partial scores.
func (e *Evaluator) Evaluate(run investigation.Run, truth GroundTruth, criteria SuccessCriteria) Result {
	significant := run.SignificantObservations()

	b := Breakdown{
		Mitigation: e.mitigationScore(run.Resolution(), truth, criteria),
		Evidence:   evidenceScore(significant, truth.KeyEvidence),
		Efficiency: efficiencyScore(run.StepCount(), budget(run, criteria)),
	}
	w := e.cfg.Weights
	score := w.Mitigation*b.Mitigation + w.Evidence*b.Evidence + w.Efficiency*b.Efficiency

	res := run.Resolution()
	proposed := run.Status() == investigation.RunCompleted &&
		res != nil && res.Type == investigation.ResolutionMitigationProposed

	corpus := identificationCorpus(significant, run.Hypothesis())
	var unidentified []string
	for _, item := range criteria.MustIdentify {
		if !evidenceMatches(item, corpus) {
			unidentified = append(unidentified, item)
		}
	}

	return Result{
		Success:             proposed && score > e.cfg.SuccessThreshold,
		Score:               score,
		Breakdown:           b,
		RootCauseIdentified: truth.RootCause != "" && evidenceMatches(truth.RootCause, corpus),
		Unidentified:        unidentified,
	}
}

func (e *Evaluator) mitigationScore(res *investigation.Resolution, truth GroundTruth, criteria SuccessCriteria) float64 {
	if res == nil || res.Type != investigation.ResolutionMitigationProposed {
		return 0
	}
	if mitigationMatches(res.Description, truth.CorrectMitigation) {
		return 1
	}
	for _, alt := range criteria.AcceptableMitigations {
		if mitigationMatches(res.Description, alt) {
			return e.cfg.AcceptableMitigationScore
		}
	}
	return 0
}

// evidenceScore is the fraction of key evidence found in a single
// significant observation summary.
func evidenceScore(significant []investigation.Observation, keyEvidence []string) float64 {
	if len(significant) == 0 || len(keyEvidence) == 0 {
		return 0
	}
	found := 0
	for _, item := range keyEvidence {
		for _, obs := range significant {
			if evidenceMatches(item, obs.Summary) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(keyEvidence))
}

// efficiencyScore decreases linearly from 1 for a single step to 0 at the
// budget.
func efficiencyScore(steps, maxSteps int) float64 {
	if maxSteps <= 0 {
		return 0
	}
	if steps < 1 {
		steps = 1
	}
	return math.Max(0, 1-float64(steps-1)/float64(maxSteps))
}

func budget(run investigation.Run, criteria SuccessCriteria) int {
	if criteria.MaxSteps > 0 {
		return criteria.MaxSteps
	}
	return run.MaxSteps()
}

// identificationCorpus joins everything the run learned. An item counts as
// identified when its words are spread across several findings.
func identificationCorpus(significant []investigation.Observation, h *investigation.Hypothesis) string {
	parts := make([]string, 0, len(significant)+2)
	for _, o := range significant {
		parts = append(parts, o.Summary)
	}
	if h != nil {
		parts = append(parts, h.Description())
		if h.HasMitigation() {
			parts = append(parts, h.Mitigation())
		}
	}
	return strings.Join(parts, "\n")
}
