package route

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/mcroute"
)

// Null answers every operation with its negative reply and contacts nothing.
type Null struct{}

func (Null) Route(_ context.Context, _ mcroute.Request, op mcroute.Op) mcroute.Reply {
	return mcroute.DefaultReply(op)
}

// Error answers every operation with a local error.
type Error struct {
	err error
}

func NewError(msg string) *Error {
	if msg == "" {
		msg = "error route"
	}
	return &Error{err: errors.New(msg)}
}

func (e *Error) Route(context.Context, mcroute.Request, mcroute.Op) mcroute.Reply {
	return mcroute.ErrorReply(mcroute.ResultLocalError, e.err)
}
