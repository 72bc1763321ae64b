// Package umbilical implements the container registry and the RPC-facing
// endpoint that brokers task pickup and heartbeats between the
// application-master and already-running worker containers.
package umbilical

import "sync"

// ContainerId identifies one worker container.
type ContainerId string

// TaskAttemptId identifies one execution attempt of one task.
type TaskAttemptId string

// TaskSpec is an opaque descriptor of work; the registry only reads its
// AttemptId and VertexName, never its body.
type TaskSpec struct {
	AttemptId  TaskAttemptId
	VertexName string
	Payload    any
}

// LocalResource is an opaque per-task side input, keyed by name at the
// call site.
type LocalResource struct {
	Name string
	Ref  any
}

// Credentials is opaque; the registry stores and forwards it without
// interpretation.
type Credentials struct {
	Token []byte
}

// ContainerInfo is the invariant-bearing record the registry keeps for one
// registered container. All mutation of a given ContainerInfo happens
// under its own mu; Assign and RemoveContainer take it while also holding
// the registry's table lock — see Registry for the two-table discipline.
type ContainerInfo struct {
	mu sync.Mutex

	containerId ContainerId

	taskSpec             *TaskSpec
	additionalResources  map[string]LocalResource
	credentials          Credentials
	credentialsChanged   bool

	taskPulled bool

	lastRequestId int64
	lastResponse  *HeartbeatResponse
}

// ContainerId returns the immutable identity of this entry.
func (c *ContainerInfo) ContainerId() ContainerId {
	return c.containerId
}

// snapshot is a point-in-time, lock-free-to-read copy used by admin
// tooling and tests. It never leaks the live *ContainerInfo.
type snapshot struct {
	ContainerId        ContainerId
	HasTask            bool
	AttemptId          TaskAttemptId
	TaskPulled         bool
	LastRequestId      int64
	CredentialsChanged bool
}

func (c *ContainerInfo) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := snapshot{
		ContainerId:        c.containerId,
		TaskPulled:         c.taskPulled,
		LastRequestId:      c.lastRequestId,
		CredentialsChanged: c.credentialsChanged,
	}
	if c.taskSpec != nil {
		s.HasTask = true
		s.AttemptId = c.taskSpec.AttemptId
	}
	return s
}
