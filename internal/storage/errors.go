package storage

import (
	"errors"
	"fmt"

	"otapetl/internal/otap"
)

// Sentinels sinks wrap so the router can classify failures.
var (
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrSchemaMismatch  = errors.New("schema mismatch")
	// ErrCommitConflict means another writer committed first. It is retried
	// only against a freshly loaded table.
	ErrCommitConflict = errors.New("commit conflict")
	ErrWrite          = errors.New("write failed")
)

// RouteKind classifies a RouteError.
type RouteKind int

const (
	WriteFailed RouteKind = iota
	SinkUnavailable
	SchemaMismatch
	CommitConflict
)

func (k RouteKind) String() string {
	switch k {
	case SinkUnavailable:
		return "sink_unavailable"
	case SchemaMismatch:
		return "schema_mismatch"
	case CommitConflict:
		return "commit_conflict"
	default:
		return "write"
	}
}

func (k RouteKind) sentinel() error {
	switch k {
	case SinkUnavailable:
		return ErrSinkUnavailable
	case SchemaMismatch:
		return ErrSchemaMismatch
	case CommitConflict:
		return ErrCommitConflict
	default:
		return ErrWrite
	}
}

// RouteError is sink scoped: one sink failed for one table, the others were
// still attempted.
type RouteError struct {
	Sink  string
	Table string
	Type  otap.PayloadType
	Kind  RouteKind
	Err   error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route %s -> %s[%s]: %s: %v", e.Type, e.Sink, e.Table, e.Kind, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

// Is matches the sentinel of e.Kind even when Err does not wrap it.
func (e *RouteError) Is(target error) bool { return target == e.Kind.sentinel() }

// Classify maps err to the RouteKind of the first sentinel it wraps.
func Classify(err error) RouteKind {
	switch {
	case errors.Is(err, ErrCommitConflict):
		return CommitConflict
	case errors.Is(err, ErrSchemaMismatch):
		return SchemaMismatch
	case errors.Is(err, ErrSinkUnavailable):
		return SinkUnavailable
	default:
		return WriteFailed
	}
}
