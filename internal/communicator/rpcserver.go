package communicator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudai/taskmaster/internal/config"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

// rpcServer serves the three umbilical operations over HTTP+JSON (spec
// §6's schemas, transport left to us per spec §1's scope note). Request
// processing is bounded by a listener-thread-count sized semaphore so
// concurrent umbilical load is deterministic under test, independent of
// net/http's own per-connection goroutine.
type rpcServer struct {
	httpServer *http.Server
	listener   net.Listener
	sem        chan struct{}
	cfg        *config.Config
	endpoint   *umbilical.Endpoint
}

func newRPCServer(cfg *config.Config, endpoint *umbilical.Endpoint) (*rpcServer, error) {
	listener, err := net.Listen("tcp", cfg.UmbilicalAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.UmbilicalAddr, err)
	}

	s := &rpcServer{
		listener: listener,
		sem:      make(chan struct{}, cfg.ListenerThreadCount),
		cfg:      cfg,
		endpoint: endpoint,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/umbilical/getTask", s.throttle(s.handleGetTask))
	mux.HandleFunc("/umbilical/canCommit", s.throttle(s.handleCanCommit))
	mux.HandleFunc("/umbilical/heartbeat", s.throttle(s.handleHeartbeat))

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		_ = s.httpServer.Serve(listener)
	}()

	return s, nil
}

// Address returns the actually-bound address.
func (s *rpcServer) Address() string {
	return s.listener.Addr().String()
}

// Stop shuts the listener down; in-flight requests get a bounded grace
// period.
func (s *rpcServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

func (s *rpcServer) throttle(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		h(w, r)
	}
}

// --- ACL policy (spec §6 "security-authorization") ---

func (s *rpcServer) issueToken(containerId umbilical.ContainerId) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   string(containerId),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// authorize checks the bearer token's subject against containerId when
// security-authorization is enabled. Returns false (and writes the HTTP
// response) if the caller is rejected.
func (s *rpcServer) authorize(w http.ResponseWriter, r *http.Request, containerId string) bool {
	if !s.cfg.SecurityAuthorization {
		return true
	}

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return false
	}
	raw := header[len(prefix):]

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return false
	}
	if claims.Subject != containerId {
		http.Error(w, "token does not authorize this container", http.StatusForbidden)
		return false
	}
	return true
}

// --- wire DTOs (spec §6) ---

type wireLocalResource struct {
	Name string `json:"name"`
	Ref  any    `json:"ref,omitempty"`
}

type wireCredentials struct {
	Token []byte `json:"token,omitempty"`
}

type getTaskRequest struct {
	ContainerId string `json:"containerIdentifier"`
}

type getTaskResponse struct {
	ShouldDie           bool                         `json:"shouldDie"`
	AttemptId           string                       `json:"attemptId,omitempty"`
	VertexName          string                       `json:"vertexName,omitempty"`
	AdditionalResources map[string]wireLocalResource `json:"additionalResources,omitempty"`
	Credentials         *wireCredentials             `json:"credentials,omitempty"`
	CredentialsChanged  bool                         `json:"credentialsChanged"`
}

func (s *rpcServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	var req getTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r, req.ContainerId) {
		return
	}

	task := s.endpoint.GetTask(r.Context(), &umbilical.ContainerContext{ContainerId: umbilical.ContainerId(req.ContainerId)})

	resp := getTaskResponse{ShouldDie: task.ShouldDie, CredentialsChanged: task.CredentialsChanged}
	if task.Delivered {
		resp.AttemptId = string(task.TaskSpec.AttemptId)
		resp.VertexName = task.TaskSpec.VertexName
		if len(task.AdditionalResources) > 0 {
			resp.AdditionalResources = make(map[string]wireLocalResource, len(task.AdditionalResources))
			for k, v := range task.AdditionalResources {
				resp.AdditionalResources[k] = wireLocalResource{Name: v.Name, Ref: v.Ref}
			}
		}
		resp.Credentials = &wireCredentials{Token: task.Credentials.Token}
	}

	writeJSON(w, resp)
}

type canCommitRequest struct {
	AttemptId string `json:"attemptId"`
}

type canCommitResponse struct {
	CanCommit bool `json:"canCommit"`
}

func (s *rpcServer) handleCanCommit(w http.ResponseWriter, r *http.Request) {
	var req canCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := s.endpoint.CanCommit(r.Context(), umbilical.TaskAttemptId(req.AttemptId))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, canCommitResponse{CanCommit: ok})
}

type wireEvent struct {
	AttemptId string `json:"attemptId"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
}

type heartbeatRequestBody struct {
	ContainerId      string      `json:"containerIdentifier"`
	RequestId        int64       `json:"requestId"`
	CurrentAttemptId *string     `json:"currentAttemptId,omitempty"`
	Events           []wireEvent `json:"events"`
	StartIndex       int32       `json:"startIndex"`
	MaxEvents        int32       `json:"maxEvents"`
}

type heartbeatResponseBody struct {
	LastRequestId int64       `json:"lastRequestId"`
	ShouldDie     bool        `json:"shouldDie"`
	Events        []wireEvent `json:"events"`
}

func (s *rpcServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.authorize(w, r, req.ContainerId) {
		return
	}

	var attemptId *umbilical.TaskAttemptId
	if req.CurrentAttemptId != nil {
		a := umbilical.TaskAttemptId(*req.CurrentAttemptId)
		attemptId = &a
	}
	events := make([]umbilical.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, umbilical.Event{AttemptId: umbilical.TaskAttemptId(e.AttemptId), Kind: e.Kind, Payload: e.Payload})
	}

	resp, err := s.endpoint.Heartbeat(r.Context(), umbilical.HeartbeatRequest{
		ContainerId:      umbilical.ContainerId(req.ContainerId),
		RequestId:        req.RequestId,
		CurrentAttemptId: attemptId,
		Events:           events,
		StartIndex:       req.StartIndex,
		MaxEvents:        req.MaxEvents,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	out := make([]wireEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		out = append(out, wireEvent{AttemptId: string(e.AttemptId), Kind: e.Kind, Payload: e.Payload})
	}
	writeJSON(w, heartbeatResponseBody{LastRequestId: resp.LastRequestId, ShouldDie: resp.ShouldDie, Events: out})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
