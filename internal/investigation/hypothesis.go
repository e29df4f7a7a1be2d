package investigation

import (
	"encoding/json"
	"strings"
)

// HypothesisStatus tracks how far a working theory has been validated.
type HypothesisStatus string

const (
	HypothesisInvestigating HypothesisStatus = "investigating"
	HypothesisSupported     HypothesisStatus = "supported"
	HypothesisRefuted       HypothesisStatus = "refuted"
	HypothesisActionable    HypothesisStatus = "actionable"
)

// HighConfidenceThreshold is the confidence at which a hypothesis counts as
// high confidence.
const HighConfidenceThreshold = 0.8

func (s HypothesisStatus) valid() bool {
	switch s {
	case HypothesisInvestigating, HypothesisSupported, HypothesisRefuted, HypothesisActionable:
		return true
	}
	return false
}

// Hypothesis is the current working theory of an investigation.
//
// Values are immutable: every With* method returns a new Hypothesis with the
// same ID and leaves the receiver untouched.
type Hypothesis struct {
	id             string
	description    string
	confidence     float64
	status         HypothesisStatus
	observationIDs []string
	mitigation     string
}

// NewHypothesis returns an investigating hypothesis. Confidence must lie in [0, 1].
func NewHypothesis(id, description string, confidence float64) (Hypothesis, error) {
	if id == "" {
		id = NewID("hyp")
	}
	if strings.TrimSpace(description) == "" {
		return Hypothesis{}, newValidationError("description", "hypothesis description is required")
	}
	if err := validateConfidence(confidence); err != nil {
		return Hypothesis{}, err
	}
	return Hypothesis{
		id:          id,
		description: description,
		confidence:  confidence,
		status:      HypothesisInvestigating,
	}, nil
}

func validateConfidence(c float64) error {
	// NaN fails both comparisons, so test the accepted range instead.
	if !(c >= 0 && c <= 1) {
		return newValidationError("confidence", "confidence must be between 0.0 and 1.0, got %v", c)
	}
	return nil
}

func (h Hypothesis) ID() string               { return h.id }
func (h Hypothesis) Description() string      { return h.description }
func (h Hypothesis) Confidence() float64      { return h.confidence }
func (h Hypothesis) Status() HypothesisStatus { return h.status }
func (h Hypothesis) Mitigation() string       { return h.mitigation }
func (h Hypothesis) HasMitigation() bool      { return h.mitigation != "" }
func (h Hypothesis) IsActionable() bool       { return h.status == HypothesisActionable }
func (h Hypothesis) IsHighConfidence() bool   { return h.confidence >= HighConfidenceThreshold }
func (h Hypothesis) SupportingCount() int     { return len(h.observationIDs) }

// ObservationIDs returns a copy of the supporting observation ids in the order
// they were added.
func (h Hypothesis) ObservationIDs() []string {
	out := make([]string, len(h.observationIDs))
	copy(out, h.observationIDs)
	return out
}

// WithConfidence returns a copy with a new confidence.
func (h Hypothesis) WithConfidence(confidence float64) (Hypothesis, error) {
	if err := validateConfidence(confidence); err != nil {
		return Hypothesis{}, err
	}
	next := h.clone()
	next.confidence = confidence
	return next, nil
}

// WithStatus returns a copy with a new status.
func (h Hypothesis) WithStatus(status HypothesisStatus) (Hypothesis, error) {
	if !status.valid() {
		return Hypothesis{}, newValidationError("status", "unknown hypothesis status %q", status)
	}
	next := h.clone()
	next.status = status
	return next, nil
}

// WithDescription returns a copy with a replaced description. An empty
// description leaves the current one in place.
func (h Hypothesis) WithDescription(description string) Hypothesis {
	next := h.clone()
	if strings.TrimSpace(description) != "" {
		next.description = description
	}
	return next
}

// WithObservation returns a copy that also cites observationID. Ids already
// cited are not repeated.
func (h Hypothesis) WithObservation(observationID string) Hypothesis {
	next := h.clone()
	for _, id := range next.observationIDs {
		if id == observationID {
			return next
		}
	}
	next.observationIDs = append(next.observationIDs, observationID)
	return next
}

// WithMitigation returns a copy carrying a proposed mitigation.
func (h Hypothesis) WithMitigation(mitigation string) Hypothesis {
	next := h.clone()
	next.mitigation = mitigation
	return next
}

func (h Hypothesis) clone() Hypothesis {
	next := h
	if h.observationIDs != nil {
		next.observationIDs = make([]string, len(h.observationIDs))
		copy(next.observationIDs, h.observationIDs)
	}
	return next
}

type hypothesisJSON struct {
	ID             string           `json:"id"`
	Description    string           `json:"description"`
	Confidence     float64          `json:"confidence"`
	Status         HypothesisStatus `json:"status"`
	ObservationIDs []string         `json:"observation_ids,omitempty"`
	Mitigation     string           `json:"mitigation,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (h Hypothesis) MarshalJSON() ([]byte, error) {
	return json.Marshal(hypothesisJSON{
		ID:             h.id,
		Description:    h.description,
		Confidence:     h.confidence,
		Status:         h.status,
		ObservationIDs: h.observationIDs,
		Mitigation:     h.mitigation,
	})
}

// UnmarshalJSON implements json.Unmarshaler and applies the constructor checks.
func (h *Hypothesis) UnmarshalJSON(data []byte) error {
	var raw hypothesisJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewHypothesis(raw.ID, raw.Description, raw.Confidence)
	if err != nil {
		return err
	}
	if raw.Status != "" {
		if parsed, err = parsed.WithStatus(raw.Status); err != nil {
			return err
		}
	}
	parsed.observationIDs = raw.ObservationIDs
	parsed.mitigation = raw.Mitigation
	*h = parsed
	return nil
}
