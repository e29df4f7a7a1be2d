package investigation

import "github.com/google/uuid"

// NewID returns a random identifier with a short type prefix, e.g. "run-<uuid>".
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// IDGenerator produces identifiers for runs, steps, observations and hypotheses.
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator is the default IDGenerator.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID(prefix string) string {
	return NewID(prefix)
}
