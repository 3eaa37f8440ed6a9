package robust

import (
	"context"
	"errors"
	"net"
)

// FailureKind classifies an operation failure for the retry spine: whether
// it is worth retrying, should be surfaced immediately, or indicates the
// breaker itself rejected the call.
type FailureKind int

const (
	// KindTransient failures are retried, subject to the operation's
	// RetryPolicy and the breaker's gate.
	KindTransient FailureKind = iota
	// KindPermanent failures are surfaced immediately without retrying.
	KindPermanent
	// KindCircuitOpen means the error already came from a breaker
	// rejection (possibly nested) and must propagate as-is.
	KindCircuitOpen
)

// Classifier decides how the spine should treat an error returned from a
// wrapped operation.
type Classifier func(error) FailureKind

// DefaultClassifier treats network errors and ErrCircuitOpen (including
// wrapped instances) as transient or circuit-open respectively, and
// everything else as permanent. Caller-context cancellation is detected by
// WrapOperation directly (via ctx.Err()) before this classifier ever runs,
// so a bare context.Canceled/context.DeadlineExceeded reaching here is
// already a connection-level timeout, not a cancelled caller — it is
// classified as transient and retried like any other network timeout.
func DefaultClassifier(err error) FailureKind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindPermanent
}
