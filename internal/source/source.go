package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nhle/localclaw/internal/model"
)

// AuthError indicates that authentication has failed or expired for a channel.
// It is returned by channel clients when a 401 response (or the protocol
// equivalent) is received.
type AuthError struct {
	Channel string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Channel, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransientError wraps timeouts, refused connections and 5xx responses.
// The operation is retried on the next cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// MalformedResponseError indicates a payload whose shape the client does
// not understand. The affected item is skipped.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response during %s: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsMalformed reports whether err (or any error in its chain) is a
// MalformedResponseError.
func IsMalformed(err error) bool {
	var mErr *MalformedResponseError
	return errors.As(err, &mErr)
}

// Status is the health of a backend as of its last network call.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Backend is the contract every channel integration implements. The poll
// loop and the pipeline depend only on this interface.
type Backend interface {
	// FetchPending returns the items waiting to be processed, in source
	// order. It never fails: on network or auth errors it returns no
	// items and flips Status to StatusError.
	FetchPending(ctx context.Context) []model.Item

	// SendResponse delivers text as a reply to item.
	SendResponse(ctx context.Context, item model.Item, text string) error

	// MarkConsumed acknowledges item so it is not fetched again.
	// Failures are logged by the backend and not reported.
	MarkConsumed(ctx context.Context, item model.Item)

	// Status reports the outcome of the most recent fetch.
	Status() Status
}

// Health tracks a backend's status flag. The zero value is StatusOK.
type Health struct {
	failed atomic.Bool
}

// Record sets the flag from the result of a fetch.
func (h *Health) Record(err error) {
	h.failed.Store(err != nil)
}

// Status returns the current flag.
func (h *Health) Status() Status {
	if h.failed.Load() {
		return StatusError
	}
	return StatusOK
}
