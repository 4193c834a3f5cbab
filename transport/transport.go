// Package transport defines the backend abstraction behind route leaves.
//
// A Transport answers one cache operation against one backend. It never
// returns a Go error for a failed call: failures come back as replies with an
// error Result (see ErrorReply) so combinators can fail over or fall back.
//
// Stores that cannot keep memcached item metadata natively (flags, expiry)
// frame values with internal/wire. Such framed values are owned by mcroute;
// foreign writes under the same keys are treated as misses.
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/unkn0wn-root/mcroute"
)

// ErrNonNumeric is returned by incr/decr on a value that is not a decimal number.
var ErrNonNumeric = errors.New("transport: cannot increment or decrement non-numeric value")

// Transport sends operations to one backend.
// Must be safe for concurrent use.
type Transport interface {
	// Send executes op. Remote or IO failures are reported in the reply.
	Send(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply

	// Close releases resources.
	Close(ctx context.Context) error
}

// ErrorReply converts a failed call into a reply.
// Context deadlines map to Timeout, dial/network failures to ConnectError,
// unsupported operations to LocalError and everything else to RemoteError.
func ErrorReply(backend string, op mcroute.Op, key string, err error) mcroute.Reply {
	res := mcroute.ResultRemoteError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		res = mcroute.ResultTimeout
	case errors.As(err, &opErr):
		res = mcroute.ResultConnectError
	case errors.Is(err, mcroute.ErrUnsupported):
		res = mcroute.ResultLocalError
	}
	return mcroute.ErrorReply(res, &mcroute.BackendError{Backend: backend, Op: op, Key: key, Err: err})
}
