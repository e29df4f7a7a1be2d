package investigation

import (
	"strings"
	"time"
)

// Severity ranks an incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity accepts the severity names case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	default:
		return "", newValidationError("severity", "unknown severity %q (must be critical, high, medium or low)", s)
	}
}

// Incident is the alert that triggers an investigation. It is read-only once
// constructed; the engine never modifies it.
type Incident struct {
	ID          string            `json:"id" yaml:"id"`
	Service     string            `json:"service" yaml:"service"`
	Description string            `json:"description" yaml:"description"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Tags        map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
}

// NewIncident validates its input and copies tags. An empty id is replaced
// with a generated one and a zero createdAt with the current time.
func NewIncident(id, service, description string, severity Severity, tags map[string]string, createdAt time.Time) (Incident, error) {
	if strings.TrimSpace(service) == "" {
		return Incident{}, newValidationError("service", "service is required")
	}
	if strings.TrimSpace(description) == "" {
		return Incident{}, newValidationError("description", "description is required")
	}
	sev, err := ParseSeverity(string(severity))
	if err != nil {
		return Incident{}, err
	}
	if id == "" {
		id = NewID("inc")
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var copied map[string]string
	if len(tags) > 0 {
		copied = make(map[string]string, len(tags))
		for k, v := range tags {
			copied[k] = v
		}
	}

	return Incident{
		ID:          id,
		Service:     service,
		Description: description,
		Severity:    sev,
		Tags:        copied,
		CreatedAt:   createdAt,
	}, nil
}

// Tag returns a tag value.
func (i Incident) Tag(key string) (string, bool) {
	v, ok := i.Tags[key]
	return v, ok
}
