package event

import "time"

// Event is implemented by everything published on a Bus.
type Event interface {
	// EventType follows "category.action", e.g. "task.completed".
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event types published by the task factory.
const (
	TypeTaskSpawned    = "task.spawned"
	TypeTaskReleased   = "task.released"
	TypeTaskCompleted  = "task.completed"
	TypeTaskFailed     = "task.failed"
	TypeTaskTerminated = "task.terminated"
	TypeTaskTimeout    = "task.timeout"
	TypeTaskNative     = "task.native"
)

// TaskSpawnedEvent is emitted once a worker process has started.
type TaskSpawnedEvent struct {
	baseEvent
	TaskID   string
	ConfigID string
	Kind     string
	PID      int
	Gated    bool
}

// NewTaskSpawnedEvent creates a TaskSpawnedEvent.
func NewTaskSpawnedEvent(taskID, configID, kind string, pid int, gated bool) TaskSpawnedEvent {
	return TaskSpawnedEvent{
		baseEvent: newBaseEvent(TypeTaskSpawned),
		TaskID:    taskID,
		ConfigID:  configID,
		Kind:      kind,
		PID:       pid,
		Gated:     gated,
	}
}

// TaskReleasedEvent is emitted when a gated task is allowed to run.
type TaskReleasedEvent struct {
	baseEvent
	TaskID string
}

// NewTaskReleasedEvent creates a TaskReleasedEvent.
func NewTaskReleasedEvent(taskID string) TaskReleasedEvent {
	return TaskReleasedEvent{baseEvent: newBaseEvent(TypeTaskReleased), TaskID: taskID}
}

// TaskCompletedEvent is emitted when a worker reports its done message.
// Error is empty on success.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string
	Seconds float64
	Error   string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID string, seconds float64, errMsg string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TaskID:    taskID,
		Seconds:   seconds,
		Error:     errMsg,
	}
}

// Success reports whether the task ran without error.
func (e TaskCompletedEvent) Success() bool { return e.Error == "" }

// TaskFailedEvent is emitted alongside TaskCompletedEvent when the worker
// reported an error, and when a worker exits without reporting at all.
type TaskFailedEvent struct {
	baseEvent
	TaskID   string
	Error    string
	ExitCode int
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(taskID, errMsg string, exitCode int) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent(TypeTaskFailed),
		TaskID:    taskID,
		Error:     errMsg,
		ExitCode:  exitCode,
	}
}

// TaskTerminatedEvent is emitted after a task was forcibly stopped.
type TaskTerminatedEvent struct {
	baseEvent
	TaskID string
	Exited bool // the process was reaped within the grace period
}

// NewTaskTerminatedEvent creates a TaskTerminatedEvent.
func NewTaskTerminatedEvent(taskID string, exited bool) TaskTerminatedEvent {
	return TaskTerminatedEvent{baseEvent: newBaseEvent(TypeTaskTerminated), TaskID: taskID, Exited: exited}
}

// TaskTimeoutEvent is emitted when a join gives up while the task is still
// alive. The task stays tracked.
type TaskTimeoutEvent struct {
	baseEvent
	TaskID  string
	Timeout time.Duration
}

// NewTaskTimeoutEvent creates a TaskTimeoutEvent.
func NewTaskTimeoutEvent(taskID string, timeout time.Duration) TaskTimeoutEvent {
	return TaskTimeoutEvent{baseEvent: newBaseEvent(TypeTaskTimeout), TaskID: taskID, Timeout: timeout}
}

// NativeEvent is a native library event forwarded from a worker.
type NativeEvent struct {
	baseEvent
	TaskID string
	Kind   string // LOG_INFO, LOG_ERROR, ...
	Text   string
}

// NewNativeEvent creates a NativeEvent.
func NewNativeEvent(taskID, kind, text string) NativeEvent {
	return NativeEvent{baseEvent: newBaseEvent(TypeTaskNative), TaskID: taskID, Kind: kind, Text: text}
}
