package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CannedTool returns fixed responses. It serves scenario fixtures and tests.
// With several responses the tool answers them in order and then keeps
// repeating the last one.
type CannedTool struct {
	name        string
	description string
	responses   []Result
	delay       time.Duration

	mu    sync.Mutex
	calls int
}

// NewCannedTool builds a CannedTool. Without responses it answers with a
// generic success.
func NewCannedTool(name, description string, delay time.Duration, responses ...Result) *CannedTool {
	return &CannedTool{
		name:        name,
		description: description,
		responses:   responses,
		delay:       delay,
	}
}

func (t *CannedTool) Name() string        { return t.name }
func (t *CannedTool) Description() string { return t.description }

// Calls returns how often the tool was executed.
func (t *CannedTool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Execute implements Tool.
func (t *CannedTool) Execute(ctx context.Context, _ map[string]interface{}) (*Result, error) {
	// Simulate execution delay
	if t.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.delay):
		}
	}

	t.mu.Lock()
	n := t.calls
	t.calls++
	t.mu.Unlock()

	if len(t.responses) == 0 {
		return &Result{
			Success: true,
			Summary: fmt.Sprintf("Canned response for %s", t.name),
			Data:    map[string]interface{}{"canned": true},
		}, nil
	}

	if n >= len(t.responses) {
		n = len(t.responses) - 1
	}
	resp := t.responses[n]
	return &resp, nil
}
