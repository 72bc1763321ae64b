package umbilical

import "context"

// Event is an opaque progress/status event reported by a task attempt.
type Event struct {
	AttemptId TaskAttemptId
	Kind      string
	Payload   any
}

// TaskHeartbeatRequest is what the endpoint forwards to the upstream
// collaborator once sequencing has been validated.
type TaskHeartbeatRequest struct {
	ContainerId ContainerId
	AttemptId   TaskAttemptId
	Events      []Event
	StartIndex  int32
	MaxEvents   int32
}

// TaskHeartbeatResponse carries whatever events upstream wants relayed
// back to the worker.
type TaskHeartbeatResponse struct {
	Events []Event
}

// Context is the upstream collaborator interface consumed by the
// Endpoint (spec §6 "TaskCommunicatorContext"). Implementations must
// never be called while a registry lock is held, and none of these may
// themselves call back into the Endpoint/Registry synchronously.
type Context interface {
	GetApplicationAttemptId() string
	GetCredentials() Credentials
	CanCommit(ctx context.Context, attemptId TaskAttemptId) (bool, error)
	Heartbeat(ctx context.Context, req TaskHeartbeatRequest) (TaskHeartbeatResponse, error)
	IsKnownContainer(id ContainerId) bool
	TaskStartedRemotely(attemptId TaskAttemptId, containerId ContainerId)
}

// ContainerContext identifies the caller of getTask.
type ContainerContext struct {
	ContainerId ContainerId
}

// ContainerTask is the tagged getTask outcome (spec §4.2.1).
type ContainerTask struct {
	ShouldDie           bool
	Delivered           bool
	TaskSpec            TaskSpec
	AdditionalResources map[string]LocalResource
	Credentials         Credentials
	CredentialsChanged  bool
}

// HeartbeatRequest is the wire-level heartbeat call (spec §6).
type HeartbeatRequest struct {
	ContainerId      ContainerId
	RequestId        int64
	CurrentAttemptId *TaskAttemptId
	Events           []Event
	StartIndex       int32
	MaxEvents        int32
}

// HeartbeatResponse is the wire-level heartbeat reply (spec §6).
type HeartbeatResponse struct {
	LastRequestId int64
	ShouldDie     bool
	Events        []Event
}
