package mqfleet

import (
	"errors"
	"fmt"

	"github.com/mqfleet/core/robust"
)

// Sentinel errors for the taxonomy in §7: validators, the pool, and the
// facade all wrap one of these so callers can use errors.Is rather than
// matching on message text.
var (
	ErrInvalidConfig         = errors.New("mqfleet: invalid configuration")
	ErrInvalidMethod         = errors.New("mqfleet: invalid operation name")
	ErrInvalidMQTTConnection = errors.New("mqfleet: pool handed out a non-live connection")
	ErrPoolExhausted         = errors.New("mqfleet: pool exhausted")
	ErrTransient             = errors.New("mqfleet: transient failure")
	ErrPermanent             = errors.New("mqfleet: permanent failure")

	// ErrCircuitOpen and ErrCancelled are facade-level aliases for their
	// robust package counterparts (the same error values, re-exported) so
	// callers of this package never need to import robust directly just
	// to check errors.Is.
	ErrCircuitOpen = robust.ErrCircuitOpen
	ErrCancelled   = robust.ErrCancelled
)

// FleetError wraps one of the sentinels above with operation context and
// the original cause, the same shape as the teacher's MqttError. Detail
// beyond the sentinel itself (an invalid qos value, a missing field) rides
// in Cause via fmt.Errorf rather than a separate message field — every
// call site in this tree already builds its detail string that way.
type FleetError struct {
	Kind  error
	Op    string
	Cause error
}

func (e *FleetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mqfleet: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("mqfleet: %s: %v", e.Op, e.Kind)
}

// Unwrap exposes Kind followed by the original cause, so errors.Is
// matches either: a caller checking errors.Is(err, someNetworkErr) should
// succeed against the underlying codec error, not just against Kind.
func (e *FleetError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// newFleetError is the constructor every package-internal error site uses.
func newFleetError(kind error, op string, cause error) *FleetError {
	return &FleetError{Kind: kind, Op: op, Cause: cause}
}
