package task

// State is the lifecycle state of a Task. States only move forward.
type State int

const (
	// StateUnbound is a new task without a bridge.
	StateUnbound State = iota
	// StateBound holds a bridge and has flushed queued subscriptions.
	StateBound
	// StateConfigured has sent its normalized options to the bridge.
	StateConfigured
	// StateRunning is inside the run phase.
	StateRunning
	// StateTerminated has been cleaned up and cannot be reused.
	StateTerminated
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Phase names used in logs and errors.
const (
	PhaseBind      = "bind"
	PhaseConfigure = "configure"
	PhaseRun       = "run"
	PhaseCleanup   = "cleanup"
)
