package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/leapstack-labs/dbrowse/pkg/core"
)

// ClassifyCommon maps errors every driver shares: context expiry, broken
// transports and errors that already belong to the taxonomy.
// The boolean is false when err needs engine-specific treatment.
func ClassifyCommon(err error) (error, bool) {
	if err == nil {
		return nil, true
	}
	if core.IsTaxonomyError(err) {
		return err, true
	}
	if errors.Is(err, ErrNotConnected) {
		return &core.ConnectionError{Reason: core.ReasonNetwork, Message: err.Error(), Err: err}, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.TimeoutError{}, true
	}
	if errors.Is(err, context.Canceled) {
		return &core.CancelledError{}, true
	}
	if IsNetworkError(err) {
		return &core.ConnectionError{Reason: core.ReasonNetwork, Message: RootMessage(err)}, true
	}
	return nil, false
}

// IsNetworkError reports whether err came from a broken or unreachable transport.
func IsNetworkError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Rejected wraps an otherwise unclassified backend error as a QuerySyntaxError.
// Only the message crosses the boundary.
func Rejected(kind core.EngineKind, err error) error {
	return &core.QuerySyntaxError{Engine: kind, Message: RootMessage(err)}
}

// RootMessage returns the message of the innermost wrapped error.
func RootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
