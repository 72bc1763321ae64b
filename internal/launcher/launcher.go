// Package launcher implements the local container launcher's event loop
// (spec §4.5, component C5): a single dedicated goroutine draining a
// bounded LAUNCH/STOP queue, handing payloads to the worker pool, and
// turning pool outcomes into lifecycle events with correct cancellation
// provenance.
package launcher

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cloudai/taskmaster/internal/localpool"
	"github.com/cloudai/taskmaster/internal/umbilical"
)

// LaunchContext carries what a container needs to start: credentials and
// whatever the payload factory needs to build a runner. The payload
// itself is opaque to the launcher (spec §1's scope note).
type LaunchContext struct {
	Tokens []byte
}

// RunnerFactory builds the opaque TaskRunner bound to one container. It
// is supplied by whoever owns the launcher (main, or a test) because the
// payload's actual behavior is outside this subsystem's concern.
type RunnerFactory func(id umbilical.ContainerId, lc LaunchContext) (localpool.TaskRunner, error)

type eventKind int

const (
	evLaunch eventKind = iota
	evStop
)

type inboundEvent struct {
	kind   eventKind
	id     umbilical.ContainerId
	lc     LaunchContext
}

// Launcher is the Local Container Launcher.
type Launcher struct {
	pool                 *localpool.Pool
	sink                 EventSink
	runnerFactory        RunnerFactory
	applicationAttemptId string

	inbound chan inboundEvent

	runningMu sync.Mutex
	running   map[umbilical.ContainerId]*localpool.Handle

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// queueCapacity bounds the LAUNCH/STOP FIFO. Spec §4.5 leaves sizing
// open; a generous but finite bound keeps a stuck loop from growing
// memory without limit while never rejecting a launch/stop under
// ordinary load.
const queueCapacity = 4096

// New builds a Launcher backed by pool, emitting to sink, and building
// payloads via factory. Call Run to start the event loop.
func New(pool *localpool.Pool, sink EventSink, factory RunnerFactory) *Launcher {
	return &Launcher{
		pool:          pool,
		sink:          sink,
		runnerFactory: factory,
		inbound:       make(chan inboundEvent, queueCapacity),
		running:       make(map[umbilical.ContainerId]*localpool.Handle),
		done:          make(chan struct{}),
	}
}

// WithApplicationAttemptId attaches the owning application attempt id,
// included on the ContainerLaunched history record (spec §6).
func (l *Launcher) WithApplicationAttemptId(id string) *Launcher {
	l.applicationAttemptId = id
	return l
}

// Run starts the single dedicated event-loop goroutine. Grounded on the
// teacher's processQueue/StartQueueProcessor pattern: one goroutine owns
// all queue draining so ordering between LAUNCH and STOP for the same
// container is preserved.
func (l *Launcher) Run() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case ev := <-l.inbound:
				l.dispatch(ev)
			case <-l.done:
				return
			}
		}
	}()
}

// Stop signals the event loop to exit and waits for it. Containers
// already running are left running; call StopContainer for each first
// if a clean drain is wanted.
func (l *Launcher) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}

// Launch enqueues a LAUNCH request for id. Non-blocking from the
// caller's perspective only up to queueCapacity; beyond that Launch
// blocks, matching the upstream scheduler's expectation that launch
// requests are never silently dropped.
func (l *Launcher) Launch(id umbilical.ContainerId, lc LaunchContext) {
	l.inbound <- inboundEvent{kind: evLaunch, id: id, lc: lc}
}

// StopContainer enqueues a STOP request for id.
func (l *Launcher) StopContainer(id umbilical.ContainerId) {
	l.inbound <- inboundEvent{kind: evStop, id: id}
}

func (l *Launcher) dispatch(ev inboundEvent) {
	switch ev.kind {
	case evLaunch:
		l.handleLaunch(ev.id, ev.lc)
	case evStop:
		l.handleStop(ev.id)
	}
}

var errMissingTokens = errors.New("launcher: launch context has no credentials")

func (l *Launcher) handleLaunch(id umbilical.ContainerId, lc LaunchContext) {
	if len(lc.Tokens) == 0 {
		l.emit(Event{Kind: "LaunchFailed", ContainerId: id, Message: errMissingTokens.Error()})
		return
	}

	runner, err := l.runnerFactory(id, lc)
	if err != nil {
		l.emit(Event{Kind: "LaunchFailed", ContainerId: id, Message: err.Error()})
		return
	}

	// runningMu is held until Launched is emitted; onCompleted takes it
	// first, so a fast payload's Completed can never precede its Launched.
	l.runningMu.Lock()
	handle, err := l.pool.Submit(runner, func(result localpool.ExecutionResult, cancelled bool) {
		l.onCompleted(id, result, cancelled)
	})
	if err != nil {
		l.runningMu.Unlock()
		l.emit(Event{Kind: "LaunchFailed", ContainerId: id, Message: err.Error()})
		return
	}

	l.running[id] = handle
	l.emit(Event{Kind: "Launched", ContainerId: id})
	l.emit(Event{Kind: "ContainerLaunched", ContainerId: id, ApplicationAttemptId: l.applicationAttemptId})
	l.runningMu.Unlock()
}

func (l *Launcher) handleStop(id umbilical.ContainerId) {
	l.runningMu.Lock()
	handle, ok := l.running[id]
	l.runningMu.Unlock()

	if !ok {
		log.Printf("launcher: stop requested for unknown/already-completed container %s", id)
	} else {
		handle.Cancel()
	}

	// Always emitted per spec §4.5, independent of whether the container
	// was actually still running.
	l.emit(Event{Kind: "C_NM_STOP_SENT", ContainerId: id})
}

func (l *Launcher) onCompleted(id umbilical.ContainerId, result localpool.ExecutionResult, cancelled bool) {
	l.runningMu.Lock()
	delete(l.running, id)
	l.runningMu.Unlock()

	switch {
	case cancelled:
		l.emit(Event{Kind: "Completed", ContainerId: id, ExitCode: ExitCodeSuccess, Message: "cancelled", Cause: CauseContainerExited})
	case result.ExitStatus == localpool.ExitSuccess || result.ExitStatus == localpool.ExitAskedToDie:
		l.emit(Event{Kind: "Completed", ContainerId: id, ExitCode: ExitCodeSuccess, Cause: CauseContainerExited})
	default:
		msg := result.ErrorMessage
		if msg == "" && result.Cause != nil {
			msg = result.Cause.Error()
		}
		l.emit(Event{Kind: "Completed", ContainerId: id, ExitCode: ExitCodeFailure, Message: msg, Cause: CauseApplicationError})
	}
}

func (l *Launcher) emit(e Event) {
	if l.sink == nil {
		return
	}
	e.Timestamp = time.Now()
	l.sink.Emit(e)
}
