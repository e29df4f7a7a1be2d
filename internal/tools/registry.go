package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moolen/sleuth/internal/investigation"
	"github.com/moolen/sleuth/internal/logging"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Options configure a Registry.
type Options struct {
	// Timeout per call. Zero selects DefaultTimeout, negative disables it.
	Timeout time.Duration
	// MaxResponseBytes caps tool output. Zero selects DefaultMaxResponseBytes,
	// negative disables truncation.
	MaxResponseBytes int
	// CacheEnabled turns on the result cache.
	CacheEnabled bool
	// CacheSize is the number of cached results.
	CacheSize int
}

// Registry manages tool registration and execution. It implements the
// engine's ToolRegistry.
type Registry struct {
	tools    map[string]Tool
	mu       sync.RWMutex
	timeout  time.Duration
	maxBytes int
	cache    *ResultCache
	logger   *logging.Logger
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(opts Options, tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:    make(map[string]Tool),
		timeout:  opts.Timeout,
		maxBytes: opts.MaxResponseBytes,
		logger:   logging.GetLogger("tools.registry"),
	}
	if r.timeout == 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxBytes == 0 {
		r.maxBytes = DefaultMaxResponseBytes
	}
	if opts.CacheEnabled {
		cache, err := NewResultCache(opts.CacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}

	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return errors.New("tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.logger.Debug("Registered tool %s", tool.Name())
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// CacheStats reports cache usage. ok is false when caching is disabled.
func (r *Registry) CacheStats() (stats CacheStats, ok bool) {
	if r.cache == nil {
		return CacheStats{}, false
	}
	return r.cache.Stats(), true
}

// Call runs a tool by name. Unknown names and a cancelled ctx return an
// error. Execution errors and timeouts come back as a result with
// Success=false.
func (r *Registry) Call(ctx context.Context, name string, params map[string]interface{}) (investigation.ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return investigation.ToolResult{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	var key string
	if r.cache != nil {
		key = MakeKey(name, params)
		if cached, hit := r.cache.Get(key); hit {
			r.logger.Debug("Cache hit for tool %s", name)
			return cached, nil
		}
	}

	start := time.Now()
	result, err := r.execute(ctx, tool, params)
	elapsed := time.Since(start).Milliseconds()

	// Cancellation by the caller aborts the step instead of becoming data.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return investigation.ToolResult{}, fmt.Errorf("tool %q: %w", name, ctxErr)
	}

	if err != nil {
		r.logger.Debug("Tool %s failed after %dms: %v", name, elapsed, err)
		return investigation.ToolResult{
			Success:         false,
			ToolName:        name,
			Errors:          []string{err.Error()},
			ExecutionTimeMs: elapsed,
		}, nil
	}
	if result == nil {
		result = &Result{Success: false, Error: "tool returned no result"}
	}

	result = truncateResult(result, r.maxBytes)

	out := investigation.ToolResult{
		Success:         result.Success,
		ToolName:        name,
		Data:            result.Data,
		ExecutionTimeMs: elapsed,
	}
	if result.Error != "" {
		out.Errors = []string{result.Error}
	}

	if r.cache != nil {
		r.cache.Put(key, out)
	}
	return out, nil
}

// execute applies the timeout. A tool that ignores its context is abandoned
// once the deadline passes.
func (r *Registry) execute(ctx context.Context, tool Tool, params map[string]interface{}) (*Result, error) {
	if r.timeout < 0 {
		return tool.Execute(ctx, params)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Execute(ctx, params)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s", r.timeout)
		}
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s", r.timeout)
		}
		return nil, ctx.Err()
	}
}
