package types

// LifecycleState represents the workload lifecycle from the coordinator's
// perspective. Exactly one coordinator instance owns the state per identity;
// all transitions are serialized.
type LifecycleState string

const (
	StateStopped  LifecycleState = "stopped"
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
)

// Status is the side-effect-free snapshot returned by the coordinator.
// Safe to request while stopped.
type Status struct {
	State   LifecycleState `json:"state"`
	PID     int            `json:"pid,omitempty"`
	Version string         `json:"version,omitempty"`

	// Session is the in-progress session, nil while stopped.
	Session *WorkloadSession `json:"session,omitempty"`
}
