package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// MalformedSampleError is returned by the normalizer when a raw sample cannot
// be attributed to a session. Such samples are never persisted nor delivered.
type MalformedSampleError struct {
	Reason string
}

func (e *MalformedSampleError) Error() string {
	return "malformed sample: " + e.Reason
}

// UnknownSessionError means the session does not exist or has already ended.
type UnknownSessionError struct {
	SessionID string
	Ended     bool
}

func (e *UnknownSessionError) Error() string {
	if e.Ended {
		return fmt.Sprintf("session %q has ended", e.SessionID)
	}
	return fmt.Sprintf("unknown session %q", e.SessionID)
}

// PersistenceError wraps a storage failure on the durability leg of a publish.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting to session %q: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SubscriberBackpressureError stays inside the registry; producers never see it.
type SubscriberBackpressureError struct {
	SubscriberID string
	Dropped      uint64
}

func (e *SubscriberBackpressureError) Error() string {
	return fmt.Sprintf("subscriber %q saturated (%d samples dropped)", e.SubscriberID, e.Dropped)
}

func IsMalformedSample(err error) bool {
	var target *MalformedSampleError
	return errors.As(err, &target)
}

func IsUnknownSession(err error) bool {
	var target *UnknownSessionError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

func IsBackpressure(err error) bool {
	var target *SubscriberBackpressureError
	return errors.As(err, &target)
}

// ErrorKind is the short name used on the wire for producer facing errors.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsMalformedSample(err):
		return "malformed"
	case IsUnknownSession(err):
		return "unknown_session"
	case IsPersistence(err):
		return "persistence"
	default:
		return "internal"
	}
}
