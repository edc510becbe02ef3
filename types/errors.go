package types

import "errors"

// Error taxonomy shared across all packages. Callers classify failures with
// errors.Is; wrapped context is added at each layer with fmt.Errorf %w.
var (
	// ErrConflict marks an operation rejected by the current lifecycle state,
	// e.g. stop while starting, or a plugin env edit while the workload runs.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable marks a transient channel failure (console disconnected,
	// proxy control channel down). Safe to retry after backoff.
	ErrUnavailable = errors.New("channel unavailable")

	// ErrCorrupt marks a damaged or inconsistent artifact: archiver exit,
	// size mismatch after multipart reconstruction. Never partially applied.
	ErrCorrupt = errors.New("corrupt artifact")

	// ErrNotFound marks a missing remote object. A restore with no backup
	// under the prefix is a fresh start, not a failure.
	ErrNotFound = errors.New("not found")
)
