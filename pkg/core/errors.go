package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionReason says why a connection could not be used.
type ConnectionReason string

// Connection failure reasons.
const (
	ReasonNetwork           ConnectionReason = "network"
	ReasonAuth              ConnectionReason = "auth"
	ReasonUnsupportedEngine ConnectionReason = "unsupportedEngine"
)

// ConnectionError is returned when a profile cannot be opened or a live
// connection broke mid-operation.
type ConnectionError struct {
	Profile string
	Reason  ConnectionReason
	Message string
	Err     error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connection error (%s)", e.Reason)
	if e.Profile != "" {
		msg += fmt.Sprintf(" on profile %q", e.Profile)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QuerySyntaxError is returned when the engine rejects a query, filter or sort
// clause. Message is the engine's own text; the driver error is not retained.
type QuerySyntaxError struct {
	Engine  EngineKind
	Message string
}

func (e *QuerySyntaxError) Error() string {
	if e.Engine == "" {
		return "query rejected: " + e.Message
	}
	return fmt.Sprintf("query rejected by %s: %s", e.Engine, e.Message)
}

// TimeoutError is returned when an operation exceeds its time limit.
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("query timed out after %s", e.Limit)
	}
	return "query timed out"
}

// CancelledError is returned when the caller cancelled an operation.
type CancelledError struct {
	Elapsed time.Duration
}

func (e *CancelledError) Error() string { return "query cancelled" }

// NotFoundError is returned when a table, collection or database does not exist.
type NotFoundError struct {
	Object  string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Object == "" {
		return "not found: " + e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("%s not found", e.Object)
	}
	return fmt.Sprintf("%s not found: %s", e.Object, e.Message)
}

// UnsupportedOperationError is returned when the engine cannot perform an operation.
type UnsupportedOperationError struct {
	Engine    EngineKind
	Operation string
	Message   string
}

func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s does not support %s", e.Engine, e.Operation)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// UnknownEngineError is returned when a profile names an engine kind with no
// registered adapter.
type UnknownEngineError struct {
	Kind      EngineKind
	Available []string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("unknown engine %q\nAvailable engines: %s\nHint: check the engine field of the connection profile",
		e.Kind, strings.Join(e.Available, ", "))
}

// IsTransportFailure reports whether err means the live connection is unusable.
func IsTransportFailure(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Reason == ReasonNetwork
}

// ErrorKind returns a short label for err, used in logs and metrics.
func ErrorKind(err error) string {
	var (
		connErr        *ConnectionError
		syntaxErr      *QuerySyntaxError
		timeoutErr     *TimeoutError
		cancelErr      *CancelledError
		notFoundErr    *NotFoundError
		unsupportedErr *UnsupportedOperationError
		unknownErr     *UnknownEngineError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &connErr):
		return "connection_" + string(connErr.Reason)
	case errors.As(err, &syntaxErr):
		return "syntax"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &cancelErr):
		return "cancelled"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &unsupportedErr):
		return "unsupported"
	case errors.As(err, &unknownErr):
		return "unknown_engine"
	default:
		return "other"
	}
}

// IsTaxonomyError reports whether err already belongs to the error taxonomy.
func IsTaxonomyError(err error) bool {
	k := ErrorKind(err)
	return k != "ok" && k != "other"
}
