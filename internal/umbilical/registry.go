package umbilical

import "sync"

// Registry is the two-table container registry (spec §4.1): a
// ContainerId -> *ContainerInfo table and a TaskAttemptId -> ContainerId
// table, fanned in from the first. Every mutation that touches both
// tables happens while holding containersMu, but the expensive part of
// any call (upstream callbacks) never happens while it is held.
type Registry struct {
	containersMu sync.RWMutex
	containers   map[ContainerId]*ContainerInfo
	attempts     map[TaskAttemptId]ContainerId
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		containers: make(map[ContainerId]*ContainerInfo),
		attempts:   make(map[TaskAttemptId]ContainerId),
	}
}

// InsertContainer installs a fresh ContainerInfo for id. Returns
// ErrAlreadyRegistered if id is already present (spec I1).
func (r *Registry) InsertContainer(id ContainerId) (*ContainerInfo, error) {
	r.containersMu.Lock()
	defer r.containersMu.Unlock()

	if _, exists := r.containers[id]; exists {
		return nil, ErrAlreadyRegistered
	}

	info := &ContainerInfo{containerId: id}
	r.containers[id] = info
	return info, nil
}

// Lookup returns the ContainerInfo for id, or nil if unknown.
func (r *Registry) Lookup(id ContainerId) *ContainerInfo {
	r.containersMu.RLock()
	defer r.containersMu.RUnlock()
	return r.containers[id]
}

// RemoveContainer deletes id and any attempt entry that maps to it,
// atomically with respect to other readers/writers of either table.
// Returns the removed entry, or nil if id was not registered.
func (r *Registry) RemoveContainer(id ContainerId) *ContainerInfo {
	r.containersMu.Lock()
	defer r.containersMu.Unlock()

	info, exists := r.containers[id]
	if !exists {
		return nil
	}
	delete(r.containers, id)

	info.mu.Lock()
	if info.taskSpec != nil {
		delete(r.attempts, info.taskSpec.AttemptId)
	}
	info.mu.Unlock()

	return info
}

// Assign installs a task assignment on container id and registers the
// attempt mapping under the same critical section (spec §4.1 assign).
func (r *Registry) Assign(id ContainerId, spec TaskSpec, resources map[string]LocalResource, creds Credentials, credsChanged bool) error {
	r.containersMu.Lock()
	info, exists := r.containers[id]
	if !exists {
		r.containersMu.Unlock()
		return ErrUnknownContainer
	}
	if _, taken := r.attempts[spec.AttemptId]; taken {
		r.containersMu.Unlock()
		return ErrAttemptAlreadyAssigned
	}

	info.mu.Lock()
	if info.taskSpec != nil {
		info.mu.Unlock()
		r.containersMu.Unlock()
		return ErrContainerBusy
	}

	specCopy := spec
	info.taskSpec = &specCopy
	info.additionalResources = resources
	info.credentials = creds
	info.credentialsChanged = credsChanged
	info.taskPulled = false
	info.mu.Unlock()

	r.attempts[spec.AttemptId] = id
	r.containersMu.Unlock()
	return nil
}

// Unassign clears the assignment for attemptId and removes the attempt
// entry. A missing entry is silently ignored (spec §4.1).
func (r *Registry) Unassign(attemptId TaskAttemptId) (found bool) {
	r.containersMu.Lock()
	id, exists := r.attempts[attemptId]
	if !exists {
		r.containersMu.Unlock()
		return false
	}
	delete(r.attempts, attemptId)
	info := r.containers[id]
	r.containersMu.Unlock()

	if info == nil {
		// Container was torn down concurrently; nothing left to clear.
		return true
	}

	info.mu.Lock()
	if info.taskSpec != nil && info.taskSpec.AttemptId == attemptId {
		info.taskSpec = nil
		info.additionalResources = nil
		info.credentials = Credentials{}
		info.credentialsChanged = false
		info.taskPulled = false
	}
	info.mu.Unlock()
	return true
}

// ContainerForAttempt returns the container currently holding attemptId,
// and whether one exists (used by the heartbeat attempt-ownership check, spec I3).
func (r *Registry) ContainerForAttempt(attemptId TaskAttemptId) (ContainerId, bool) {
	r.containersMu.RLock()
	defer r.containersMu.RUnlock()
	id, ok := r.attempts[attemptId]
	return id, ok
}

// Snapshot returns a point-in-time list of every registered container's
// state, for the admin console and tests.
func (r *Registry) Snapshot() []snapshot {
	r.containersMu.RLock()
	infos := make([]*ContainerInfo, 0, len(r.containers))
	for _, info := range r.containers {
		infos = append(infos, info)
	}
	r.containersMu.RUnlock()

	out := make([]snapshot, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.snapshot())
	}
	return out
}
