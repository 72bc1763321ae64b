package communicator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cloudai/taskmaster/internal/config"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

// noopUpstream is the minimal umbilical.Context a communicator test needs.
type noopUpstream struct{}

func (noopUpstream) GetApplicationAttemptId() string { return "app_test" }
func (noopUpstream) GetCredentials() umbilical.Credentials { return umbilical.Credentials{} }
func (noopUpstream) CanCommit(ctx context.Context, attemptId umbilical.TaskAttemptId) (bool, error) {
	return true, nil
}
func (noopUpstream) Heartbeat(ctx context.Context, req umbilical.TaskHeartbeatRequest) (umbilical.TaskHeartbeatResponse, error) {
	return umbilical.TaskHeartbeatResponse{}, nil
}
func (noopUpstream) IsKnownContainer(id umbilical.ContainerId) bool { return false }
func (noopUpstream) TaskStartedRemotely(attemptId umbilical.TaskAttemptId, containerId umbilical.ContainerId) {
}

func testConfig() *config.Config {
	return &config.Config{
		UmbilicalAddr:          "127.0.0.1:0",
		ListenerThreadCount:    2,
		InlineExecutorMaxTasks: 2,
	}
}

func TestServiceRegisterAssignAndGetTaskOverHTTP(t *testing.T) {
	cfg := testConfig()
	svc := NewService(cfg, noopUpstream{})
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	if err := svc.RegisterRunningContainer("c1", "127.0.0.1", 9000); err != nil {
		t.Fatalf("registerRunningContainer: %v", err)
	}
	if err := svc.RegisterRunningTaskAttempt("c1", umbilical.TaskSpec{AttemptId: "a1", VertexName: "v1"}, nil, umbilical.Credentials{}, false); err != nil {
		t.Fatalf("registerRunningTaskAttempt: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"containerIdentifier": "c1"})
	resp, err := http.Post("http://"+svc.GetAddress()+"/umbilical/getTask", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post getTask: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out getTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ShouldDie || out.AttemptId != "a1" {
		t.Fatalf("expected delivered task a1, got %+v", out)
	}
}

func TestServiceRejectsRequestsWithoutBearerTokenWhenAuthorizationEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SecurityAuthorization = true
	cfg.JWTSecret = "test-secret"
	svc := NewService(cfg, noopUpstream{})
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	if err := svc.RegisterRunningContainer("c1", "127.0.0.1", 9000); err != nil {
		t.Fatalf("register: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"containerIdentifier": "c1"})
	resp, err := http.Post("http://"+svc.GetAddress()+"/umbilical/getTask", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}

	token, err := svc.IssueToken("c1")
	if err != nil || token == "" {
		t.Fatalf("issue token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, "http://"+svc.GetAddress()+"/umbilical/getTask", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	client := &http.Client{Timeout: 2 * time.Second}
	resp2, err := client.Do(req)
	if err != nil {
		t.Fatalf("authorized request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid bearer token, got %d", resp2.StatusCode)
	}
}

func TestRegisterContainerEndTearsDownRegistryEntry(t *testing.T) {
	cfg := testConfig()
	cfg.LocalMode = true
	svc := NewService(cfg, noopUpstream{})
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	if err := svc.RegisterRunningContainer("c1", "", 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.RegisterContainerEnd("c1")

	snapshot := svc.Snapshot()
	for _, entry := range snapshot {
		if entry.ContainerId == "c1" {
			t.Fatal("expected c1 to be removed from the registry snapshot")
		}
	}
}
