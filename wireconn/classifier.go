package wireconn

import (
	"errors"
	"io"

	"github.com/mqfleet/core/robust"
)

// errConnClosed marks an error as originating from this package's own
// connection-closed paths (the read loop's deferred cleanup and Receive's
// closed-channel branch). robust.DefaultClassifier cannot see it — robust
// has no dependency on wireconn or mqfleet, and mqfleet.ErrTransient would
// require robust to import mqfleet, which would cycle back (mqfleet
// already imports robust). DefaultClassifier below closes that gap for
// connections built over this package.
var errConnClosed = errors.New("wireconn: connection closed")

// DefaultClassifier extends robust.DefaultClassifier with the failure
// modes this package's Conn actually produces: a dropped TCP connection
// (surfaced via errConnClosed, wrapped alongside mqfleet.ErrTransient) and
// a read loop that terminates because the peer closed its end (io.EOF).
// Both are connection-level, not protocol-level, failures and should be
// retried by the robustness spine rather than surfaced immediately.
//
// A Factory built over this package reports this function as its
// DefaultClassifier (see Factory.DefaultClassifier), so mqfleet.Factory
// picks it up automatically unless a caller supplies their own via
// WithClassifier.
func DefaultClassifier(err error) robust.FailureKind {
	if kind := robust.DefaultClassifier(err); kind != robust.KindPermanent {
		return kind
	}
	if errors.Is(err, errConnClosed) || errors.Is(err, io.EOF) {
		return robust.KindTransient
	}
	return robust.KindPermanent
}
