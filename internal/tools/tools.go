// Package tools provides the diagnostic tool registry used by the engine.
package tools

import (
	"context"
	"errors"
)

// ErrToolNotFound is returned by Registry.Call for unregistered tool names.
var ErrToolNotFound = errors.New("tool not found")

// Tool defines the interface for diagnostic tools.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Execute runs the tool with the given parameters. A returned error is
	// reported to the engine as a failed result, not as an error.
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success" yaml:"success"`

	// Data contains the tool's output (tool-specific structure)
	Data interface{} `json:"data,omitempty" yaml:"data,omitempty"`

	// Error contains error details if Success is false
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Summary is a brief description of what happened (for display)
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Func adapts a function to Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Fn              func(ctx context.Context, params map[string]interface{}) (*Result, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.ToolDescription }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, params map[string]interface{}) (*Result, error) {
	return f.Fn(ctx, params)
}
