// Package communicator owns the container registry and umbilical
// endpoint, and exposes the registration API upstream (the scheduler)
// uses to hand off container allocations and task assignments (spec
// §4.3, component C3).
package communicator

import (
	"fmt"
	"log"

	"github.com/cloudai/taskmaster/internal/config"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

// Service is the Task Communicator Service.
type Service struct {
	registry *umbilical.Registry
	endpoint *umbilical.Endpoint
	upstream umbilical.Context

	cfg *config.Config

	server  *rpcServer
	address string
}

// NewService wires a registry and endpoint against an upstream
// collaborator. It does not start the RPC listener; call Start for that.
func NewService(cfg *config.Config, upstream umbilical.Context) *Service {
	registry := umbilical.NewRegistry()
	endpoint := umbilical.NewEndpoint(registry, upstream)
	return &Service{
		registry: registry,
		endpoint: endpoint,
		upstream: upstream,
		cfg:      cfg,
	}
}

// Start brings up the umbilical RPC listener (spec §4.3 "Startup"). In
// local mode no listener is created and a synthetic loopback address is
// recorded instead.
func (s *Service) Start() error {
	if s.cfg.LocalMode {
		s.address = "local://umbilical"
		log.Printf("communicator: local mode, synthesizing address %s", s.address)
		return nil
	}

	srv, err := newRPCServer(s.cfg, s.endpoint)
	if err != nil {
		return fmt.Errorf("communicator: failed to start umbilical server: %w", err)
	}
	s.server = srv
	s.address = srv.Address()
	log.Printf("communicator: umbilical listening on %s (handlers=%d, security-authorization=%v)",
		s.address, s.cfg.ListenerThreadCount, s.cfg.SecurityAuthorization)
	return nil
}

// Stop stops the RPC server. Registry entries remain but no new RPC
// calls are accepted afterward (spec §4.3 "Shutdown").
func (s *Service) Stop() {
	if s.server != nil {
		s.server.Stop()
	}
}

// GetAddress returns the bound umbilical address.
func (s *Service) GetAddress() string {
	return s.address
}

// Endpoint returns the umbilical RPC surface, for in-process callers
// (the local launcher) that never go over the wire.
func (s *Service) Endpoint() *umbilical.Endpoint {
	return s.endpoint
}

// IssueToken mints a signed umbilical token for containerId, used when
// security-authorization is enabled (spec §6). No-op concept when it is
// disabled; callers still may call it, the token is just not required.
func (s *Service) IssueToken(containerId umbilical.ContainerId) (string, error) {
	if s.server == nil {
		return "", nil
	}
	return s.server.issueToken(containerId)
}

// RegisterRunningContainer installs a fresh ContainerInfo for id. host and
// port are informational only and are not interpreted further (spec §9
// open question, preserved from the source).
func (s *Service) RegisterRunningContainer(id umbilical.ContainerId, host string, port int) error {
	_, err := s.registry.InsertContainer(id)
	if err != nil {
		return fmt.Errorf("registerRunningContainer(%s): %w", id, err)
	}
	log.Printf("communicator: registered container %s (%s:%d)", id, host, port)
	return nil
}

// RegisterContainerEnd tears down a container's registry entry.
func (s *Service) RegisterContainerEnd(id umbilical.ContainerId) {
	if s.registry.RemoveContainer(id) == nil {
		log.Printf("communicator: registerContainerEnd for unknown container %s", id)
		return
	}
	log.Printf("communicator: torn down container %s", id)
}

// RegisterRunningTaskAttempt assigns spec to container id (spec §4.1 assign).
func (s *Service) RegisterRunningTaskAttempt(id umbilical.ContainerId, spec umbilical.TaskSpec, resources map[string]umbilical.LocalResource, creds umbilical.Credentials, credsChanged bool) error {
	if err := s.registry.Assign(id, spec, resources, creds, credsChanged); err != nil {
		return fmt.Errorf("registerRunningTaskAttempt(%s, %s): %w", id, spec.AttemptId, err)
	}
	return nil
}

// UnregisterRunningTaskAttempt clears the assignment for attemptId.
func (s *Service) UnregisterRunningTaskAttempt(attemptId umbilical.TaskAttemptId) {
	if !s.registry.Unassign(attemptId) {
		log.Printf("communicator: unregisterRunningTaskAttempt for unmapped attempt %s", attemptId)
	}
}

// Snapshot exposes the registry's current state for the admin console
// and tests.
func (s *Service) Snapshot() []ContainerSnapshot {
	raw := s.registry.Snapshot()
	out := make([]ContainerSnapshot, 0, len(raw))
	for _, entry := range raw {
		out = append(out, ContainerSnapshot{
			ContainerId:        string(entry.ContainerId),
			HasTask:            entry.HasTask,
			AttemptId:          string(entry.AttemptId),
			TaskPulled:         entry.TaskPulled,
			LastRequestId:      entry.LastRequestId,
			CredentialsChanged: entry.CredentialsChanged,
		})
	}
	return out
}

// ContainerSnapshot is the exported, stable-shape view of one registry
// entry (umbilical.snapshot is unexported).
type ContainerSnapshot struct {
	ContainerId        string
	HasTask            bool
	AttemptId          string
	TaskPulled         bool
	LastRequestId      int64
	CredentialsChanged bool
}
