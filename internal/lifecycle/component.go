// Package lifecycle starts and stops long-running sleuth components.
package lifecycle

import "context"

// Component is a long-running part of the process: the tracing provider,
// the metrics server or the scenario watcher.
type Component interface {
	// Start brings the component up. It should return once the component is
	// ready, leaving background work running.
	Start(ctx context.Context) error

	// Stop shuts the component down within the context deadline.
	Stop(ctx context.Context) error

	// Name is used in logs and errors. Must not be empty.
	Name() string
}
