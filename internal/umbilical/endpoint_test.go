package umbilical

import (
	"context"
	"testing"
)

// fakeUpstream implements Context with enough behavior for endpoint tests
// to observe what the endpoint forwards.
type fakeUpstream struct {
	known              map[ContainerId]bool
	startedRemotelyLog []TaskAttemptId
	heartbeatEvents    []Event
	commitGrants       map[TaskAttemptId]bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{known: map[ContainerId]bool{}, commitGrants: map[TaskAttemptId]bool{}}
}

func (f *fakeUpstream) GetApplicationAttemptId() string { return "app_test_000001" }
func (f *fakeUpstream) GetCredentials() Credentials     { return Credentials{} }

func (f *fakeUpstream) CanCommit(ctx context.Context, attemptId TaskAttemptId) (bool, error) {
	granted := !f.commitGrants[attemptId]
	f.commitGrants[attemptId] = true
	return granted, nil
}

func (f *fakeUpstream) Heartbeat(ctx context.Context, req TaskHeartbeatRequest) (TaskHeartbeatResponse, error) {
	f.heartbeatEvents = append(f.heartbeatEvents, req.Events...)
	return TaskHeartbeatResponse{}, nil
}

func (f *fakeUpstream) IsKnownContainer(id ContainerId) bool { return f.known[id] }

func (f *fakeUpstream) TaskStartedRemotely(attemptId TaskAttemptId, containerId ContainerId) {
	f.startedRemotelyLog = append(f.startedRemotelyLog, attemptId)
}

func TestGetTaskDeliversOnceThenNoTask(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	if _, err := reg.InsertContainer("c1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := reg.Assign("c1", TaskSpec{AttemptId: "a1", VertexName: "v1"}, nil, Credentials{}, false); err != nil {
		t.Fatalf("assign: %v", err)
	}

	first := ep.GetTask(context.Background(), &ContainerContext{ContainerId: "c1"})
	if !first.Delivered || first.TaskSpec.AttemptId != "a1" {
		t.Fatalf("expected delivered task a1, got %+v", first)
	}
	if len(up.startedRemotelyLog) != 1 || up.startedRemotelyLog[0] != "a1" {
		t.Fatalf("expected TaskStartedRemotely(a1), got %v", up.startedRemotelyLog)
	}

	second := ep.GetTask(context.Background(), &ContainerContext{ContainerId: "c1"})
	if second.Delivered || second.ShouldDie {
		t.Fatalf("expected NoTask on second pull, got %+v", second)
	}
}

func TestGetTaskUnknownContainerDies(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	task := ep.GetTask(context.Background(), &ContainerContext{ContainerId: "ghost"})
	if !task.ShouldDie {
		t.Fatal("expected ShouldDie for unknown container")
	}
}

func TestHeartbeatRejectsWrongOwner(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	if _, err := reg.InsertContainer("c1"); err != nil {
		t.Fatalf("insert c1: %v", err)
	}
	if _, err := reg.InsertContainer("c2"); err != nil {
		t.Fatalf("insert c2: %v", err)
	}
	if err := reg.Assign("c1", TaskSpec{AttemptId: "a1"}, nil, Credentials{}, false); err != nil {
		t.Fatalf("assign: %v", err)
	}

	attempt := TaskAttemptId("a1")
	_, err := ep.Heartbeat(context.Background(), HeartbeatRequest{ContainerId: "c2", RequestId: 1, CurrentAttemptId: &attempt})
	if err != ErrAttemptNotRecognized {
		t.Fatalf("expected ErrAttemptNotRecognized, got %v", err)
	}
}

func TestHeartbeatSequenceMonotonicityAndReplay(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	if _, err := reg.InsertContainer("c1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := reg.Assign("c1", TaskSpec{AttemptId: "a1"}, nil, Credentials{}, false); err != nil {
		t.Fatalf("assign: %v", err)
	}

	attempt := TaskAttemptId("a1")
	req := func(id int64) HeartbeatRequest {
		return HeartbeatRequest{ContainerId: "c1", RequestId: id, CurrentAttemptId: &attempt}
	}

	// The very first heartbeat for a container must carry requestId 1
	// (lastRequestId starts at 0, and the endpoint requires
	// requestId == lastRequestId+1), matching spec §8 scenario 1's literal
	// example.
	first, err := ep.Heartbeat(context.Background(), req(1))
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if first.LastRequestId != 1 {
		t.Fatalf("expected LastRequestId 1, got %d", first.LastRequestId)
	}

	// Replaying the same request id returns the cached response rather
	// than re-invoking upstream.
	before := len(up.heartbeatEvents)
	replay, err := ep.Heartbeat(context.Background(), req(1))
	if err != nil {
		t.Fatalf("replay heartbeat: %v", err)
	}
	if replay.LastRequestId != first.LastRequestId {
		t.Fatalf("replay mismatch: %+v vs %+v", replay, first)
	}
	if len(up.heartbeatEvents) != before {
		t.Fatal("replay must not invoke upstream again")
	}

	// Skipping ahead is rejected.
	if _, err := ep.Heartbeat(context.Background(), req(5)); err != ErrInvalidSequence {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}

	// The true next sequence number succeeds.
	if _, err := ep.Heartbeat(context.Background(), req(2)); err != nil {
		t.Fatalf("next-in-sequence heartbeat: %v", err)
	}
}

func TestHeartbeatUnknownContainerAsksToDie(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	resp, err := ep.Heartbeat(context.Background(), HeartbeatRequest{ContainerId: "ghost", RequestId: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.ShouldDie {
		t.Fatal("expected ShouldDie for unknown container heartbeat")
	}
}

func TestCanCommitDelegatesAndIsFirstCommitterWins(t *testing.T) {
	reg := NewRegistry()
	up := newFakeUpstream()
	ep := NewEndpoint(reg, up)

	first, err := ep.CanCommit(context.Background(), "a1")
	if err != nil || !first {
		t.Fatalf("expected first CanCommit to be granted, got %v, %v", first, err)
	}
	second, err := ep.CanCommit(context.Background(), "a1")
	if err != nil || second {
		t.Fatalf("expected second CanCommit to be refused, got %v, %v", second, err)
	}
}
