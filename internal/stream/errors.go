package stream

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a start, or any other session-scoped
// request, names a session identifier with no pending entry.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when a setup request reuses an identifier that
// is still pending or active.
var ErrSessionExists = errors.New("session already exists")

// ErrTooManyStreams is returned when a setup request would exceed the
// camera's configured concurrent stream limit.
var ErrTooManyStreams = errors.New("maximum concurrent streams reached")

// AddressResolutionError reports that no usable non-internal address could be
// found for the requested family and interface. Err, when set, carries the
// underlying interface lookup or enumeration failure.
type AddressResolutionError struct {
	Interface string
	Family    AddressFamily
	Err       error
}

func (e *AddressResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s address on interface %q: %v", e.Family, e.Interface, e.Err)
	}
	if e.Interface == "" {
		return fmt.Sprintf("no usable %s address on the default interface", e.Family)
	}
	return fmt.Sprintf("no usable %s address on interface %q", e.Family, e.Interface)
}

func (e *AddressResolutionError) Unwrap() error { return e.Err }

// PortAllocationError reports a failure to allocate an ephemeral UDP port for
// the session return path.
type PortAllocationError struct {
	Err error
}

func (e *PortAllocationError) Error() string {
	return fmt.Sprintf("allocate return port: %v", e.Err)
}

func (e *PortAllocationError) Unwrap() error { return e.Err }

// ProcessSpawnError reports that the transcoder binary could not be started.
type ProcessSpawnError struct {
	Path string
	Err  error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("spawn transcoder %q: %v", e.Path, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// ProcessRuntimeError reports an abnormal transcoder exit during an active
// session. Diagnostics holds the tail of the process's stderr output.
type ProcessRuntimeError struct {
	SessionID   string
	Err         error
	Diagnostics string
}

func (e *ProcessRuntimeError) Error() string {
	return fmt.Sprintf("transcoder for session %q failed: %v", e.SessionID, e.Err)
}

func (e *ProcessRuntimeError) Unwrap() error { return e.Err }

// SnapshotError reports a failed still-image capture together with the
// transcoder's diagnostic output.
type SnapshotError struct {
	Err         error
	Diagnostics string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot failed: %v", e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }
