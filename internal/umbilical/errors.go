package umbilical

import "errors"

// Registration-misuse errors (spec §7): fatal to the upstream caller.
var (
	ErrAlreadyRegistered     = errors.New("umbilical: container already registered")
	ErrUnknownContainer      = errors.New("umbilical: unknown container")
	ErrContainerBusy         = errors.New("umbilical: container already has an assignment")
	ErrAttemptAlreadyAssigned = errors.New("umbilical: attempt already assigned to a container")
)

// Heartbeat faults (spec §7): surfaced to the calling worker as RPC faults.
var (
	ErrAttemptNotRecognized = errors.New("umbilical: heartbeat attempt not recognized for container")
	ErrInvalidSequence      = errors.New("umbilical: heartbeat requestId out of sequence")
)
