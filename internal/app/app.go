// Package app provides the upstream collaborator the umbilical endpoint
// calls into: the piece that knows which containers and attempts exist,
// decides commit races, and collects heartbeat events. Tez calls its
// equivalent the TaskCommunicatorContext implementation living inside
// the application master; here it is a minimal, self-contained driver
// since the surrounding DAG scheduler is outside this subsystem's scope.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cloudai/taskmaster/internal/umbilical"
)

// Driver implements umbilical.Context. It tracks attempt lifecycle just
// enough to answer CanCommit/Heartbeat/IsKnownContainer and to give the
// admin console something to inspect.
type Driver struct {
	applicationAttemptId string
	credentials           umbilical.Credentials

	mu              sync.Mutex
	knownContainers map[umbilical.ContainerId]bool
	committed       map[umbilical.TaskAttemptId]bool
	startedRemotely map[umbilical.TaskAttemptId]umbilical.ContainerId
	events          map[umbilical.TaskAttemptId][]umbilical.Event
}

// NewDriver builds a Driver for one application attempt.
func NewDriver(applicationAttemptId string, credentials umbilical.Credentials) *Driver {
	return &Driver{
		applicationAttemptId: applicationAttemptId,
		credentials:           credentials,
		knownContainers:       make(map[umbilical.ContainerId]bool),
		committed:             make(map[umbilical.TaskAttemptId]bool),
		startedRemotely:       make(map[umbilical.TaskAttemptId]umbilical.ContainerId),
		events:                make(map[umbilical.TaskAttemptId][]umbilical.Event),
	}
}

// NoteContainer records id as having existed at some point, so a later
// getTask/heartbeat from a container that has since been torn down can
// still be told "known but gone" rather than "never known".
func (d *Driver) NoteContainer(id umbilical.ContainerId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.knownContainers[id] = true
}

func (d *Driver) GetApplicationAttemptId() string { return d.applicationAttemptId }

func (d *Driver) GetCredentials() umbilical.Credentials { return d.credentials }

// CanCommit implements first-committer-wins: the first attempt to ask
// for a given TaskAttemptId is granted, every subsequent caller (e.g. a
// speculative duplicate) is refused.
func (d *Driver) CanCommit(ctx context.Context, attemptId umbilical.TaskAttemptId) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.committed[attemptId] {
		return false, nil
	}
	d.committed[attemptId] = true
	return true, nil
}

// Heartbeat records events and acks with nothing new to deliver; a real
// DAG scheduler would translate queued control events (e.g. "preempt")
// into the response here.
func (d *Driver) Heartbeat(ctx context.Context, req umbilical.TaskHeartbeatRequest) (umbilical.TaskHeartbeatResponse, error) {
	d.mu.Lock()
	d.events[req.AttemptId] = append(d.events[req.AttemptId], req.Events...)
	d.mu.Unlock()
	return umbilical.TaskHeartbeatResponse{}, nil
}

func (d *Driver) IsKnownContainer(id umbilical.ContainerId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.knownContainers[id]
}

// TaskStartedRemotely records that a container has pulled its task, for
// inspection purposes. Spec §4.2.1 requires this call happen outside
// any registry lock, which is the endpoint's responsibility, not ours.
func (d *Driver) TaskStartedRemotely(attemptId umbilical.TaskAttemptId, containerId umbilical.ContainerId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startedRemotely[attemptId] = containerId
	log.Printf("app: attempt %s started remotely on container %s", attemptId, containerId)
}

// AttemptEvents returns a snapshot copy of the events heartbeated back
// for attemptId.
func (d *Driver) AttemptEvents(attemptId umbilical.TaskAttemptId) []umbilical.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]umbilical.Event, len(d.events[attemptId]))
	copy(out, d.events[attemptId])
	return out
}

// Summary renders a one-line human-readable status, used by the admin
// console's "status" command.
func (d *Driver) Summary() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("applicationAttemptId=%s knownContainers=%d committedAttempts=%d",
		d.applicationAttemptId, len(d.knownContainers), len(d.committed))
}
