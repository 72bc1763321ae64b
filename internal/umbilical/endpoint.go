package umbilical

import (
	"context"
	"log"
)

// Endpoint is the umbilical RPC surface (spec §4.2): getTask, canCommit,
// heartbeat. It never calls upstream while holding a per-container lock.
type Endpoint struct {
	registry *Registry
	upstream Context
}

// NewEndpoint wires a Registry to its upstream collaborator.
func NewEndpoint(registry *Registry, upstream Context) *Endpoint {
	return &Endpoint{registry: registry, upstream: upstream}
}

// GetTask implements spec §4.2.1.
func (e *Endpoint) GetTask(ctx context.Context, cc *ContainerContext) ContainerTask {
	if cc == nil || cc.ContainerId == "" {
		return ContainerTask{ShouldDie: true}
	}

	info := e.registry.Lookup(cc.ContainerId)
	if info == nil {
		if e.upstream.IsKnownContainer(cc.ContainerId) {
			log.Printf("umbilical: getTask for known-but-gone container %s", cc.ContainerId)
		} else {
			log.Printf("umbilical: getTask for never-known container %s", cc.ContainerId)
		}
		return ContainerTask{ShouldDie: true}
	}

	info.mu.Lock()
	if info.taskSpec == nil || info.taskPulled {
		info.mu.Unlock()
		return ContainerTask{}
	}

	spec := *info.taskSpec
	resources := info.additionalResources
	creds := info.credentials
	credsChanged := info.credentialsChanged
	info.taskPulled = true
	info.mu.Unlock()

	// Upstream forbids callbacks under a held registry lock.
	e.upstream.TaskStartedRemotely(spec.AttemptId, cc.ContainerId)

	return ContainerTask{
		Delivered:           true,
		TaskSpec:            spec,
		AdditionalResources: resources,
		Credentials:         creds,
		CredentialsChanged:  credsChanged,
	}
}

// CanCommit implements spec §4.2.2: a pure delegation, no local state.
func (e *Endpoint) CanCommit(ctx context.Context, attemptId TaskAttemptId) (bool, error) {
	return e.upstream.CanCommit(ctx, attemptId)
}

// Heartbeat implements spec §4.2.3.
func (e *Endpoint) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	info := e.registry.Lookup(req.ContainerId)
	if info == nil {
		return HeartbeatResponse{ShouldDie: true, LastRequestId: req.RequestId}, nil
	}

	// Duplicate-request replay is checked first, per spec §4.2.3's table:
	// an exact retransmission of a previously-answered requestId must
	// always replay the cached response, even if the attempt it named has
	// since been unassigned from this container (P3).
	info.mu.Lock()
	if req.RequestId == info.lastRequestId && info.lastResponse != nil {
		resp := *info.lastResponse
		info.mu.Unlock()
		return resp, nil
	}
	info.mu.Unlock()

	// Checked without holding info.mu: Assign acquires the registry table
	// lock before a container's own lock, so checking attempt ownership
	// here (registry lock only) avoids acquiring the two locks in the
	// opposite order.
	if req.CurrentAttemptId != nil {
		owner, ok := e.registry.ContainerForAttempt(*req.CurrentAttemptId)
		if !ok || owner != req.ContainerId {
			return HeartbeatResponse{}, ErrAttemptNotRecognized
		}
	}

	info.mu.Lock()
	if req.CurrentAttemptId != nil && req.RequestId != info.lastRequestId+1 {
		info.mu.Unlock()
		return HeartbeatResponse{}, ErrInvalidSequence
	}
	info.mu.Unlock()

	var events []Event
	if req.CurrentAttemptId != nil {
		upstreamResp, err := e.upstream.Heartbeat(ctx, TaskHeartbeatRequest{
			ContainerId: req.ContainerId,
			AttemptId:   *req.CurrentAttemptId,
			Events:      req.Events,
			StartIndex:  req.StartIndex,
			MaxEvents:   req.MaxEvents,
		})
		if err != nil {
			return HeartbeatResponse{}, err
		}
		events = upstreamResp.Events
	}

	resp := HeartbeatResponse{LastRequestId: req.RequestId, Events: events}

	info.mu.Lock()
	info.lastRequestId = req.RequestId
	respCopy := resp
	info.lastResponse = &respCopy
	info.mu.Unlock()

	return resp, nil
}
