package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudai/taskmaster/internal/umbilical"
)

// TerminationCause classifies why a Completed event fired (spec §6).
type TerminationCause string

const (
	CauseContainerExited TerminationCause = "CONTAINER_EXITED"
	CauseApplicationError TerminationCause = "APPLICATION_ERROR"
)

const (
	ExitCodeSuccess = 0
	ExitCodeFailure = 1
)

// Event is the tagged union of everything the launcher emits (spec §6).
type Event struct {
	Kind                  string                `json:"kind"` // LaunchFailed | Launched | Completed | C_NM_STOP_SENT | ContainerLaunched
	ContainerId           umbilical.ContainerId `json:"containerId"`
	ExitCode              int                   `json:"exitCode,omitempty"`
	Message               string                `json:"message,omitempty"`
	Cause                 TerminationCause      `json:"cause,omitempty"`
	ApplicationAttemptId  string                `json:"applicationAttemptId,omitempty"`
	Timestamp             time.Time             `json:"timestamp"`
}

// EventSink is where the launcher emits lifecycle events. In Tez-style
// terms this is the application-master's event/history collaborator;
// here it is modeled as a plain interface so tests can substitute a
// recorder and the live dashboard can substitute a broadcaster.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Recorder is an EventSink that appends everything it receives, for
// tests that need to assert on emission order.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit implements EventSink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

// All returns a snapshot copy of every event recorded so far.
func (r *Recorder) All() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.Events))
	copy(out, r.Events)
	return out
}

// Broadcaster is a best-effort EventSink that fans lifecycle events out
// to any number of connected websocket clients (operators watching a
// live dashboard). A disconnected or slow client is dropped rather than
// allowed to block event emission — the event sink contract in spec §5
// is itself best-effort.
type Broadcaster struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// ServeHTTP upgrades a connection and registers it as a listener.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("launcher: websocket upgrade failed: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	// Drain and discard anything the client sends; we only care about
	// detecting disconnects so the conn can be cleaned up.
	go func() {
		defer b.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

// Serve binds addr and serves the live event feed at /events until the
// returned stop function is called, grounded on the teacher's telemetry_server.go, which
// bundles its WebSocket listener's start/stop with the broadcaster it
// serves rather than leaving the two independently wired.
func (b *Broadcaster) Serve(addr string) (boundAddr string, stop func(), err error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("launcher: failed to bind events feed: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", b.ServeHTTP)
	srv := &http.Server{Handler: mux}

	go func() {
		_ = srv.Serve(listener)
	}()

	stop = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return listener.Addr().String(), stop, nil
}

// Emit implements EventSink.
func (b *Broadcaster) Emit(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("launcher: failed to marshal event: %v", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			go b.remove(conn)
		}
	}
}
