package mcroute

import "time"

// Request is one cache operation's arguments. Handles treat it as a value and
// never mutate a caller's Value slice.
type Request struct {
	Key        string
	Value      []byte
	Flags      uint64
	Exptime    uint32 // relative seconds; 0 = never expires
	Delta      uint64 // incr/decr amount
	LeaseToken uint64 // lease-set token from a prior lease-get
}

// TTL returns Exptime as a duration (0 = no expiry).
func (r Request) TTL() time.Duration { return time.Duration(r.Exptime) * time.Second }

// Reply is what a handle or transport returns.
type Reply struct {
	Result     Result
	Value      []byte
	Flags      uint64
	Exptime    uint32 // remaining seconds; 0 = none or unknown
	Counter    uint64 // new value after incr/decr
	LeaseToken uint64
	Err        error // set for error results
}

// Hit reports whether the reply carries a found value.
func (r Reply) Hit() bool { return r.Result.IsHit() }

// Failed reports whether the reply is an error result.
func (r Reply) Failed() bool { return r.Result.IsError() }

// ErrorReply builds an error reply. A non-error res is coerced to LocalError.
func ErrorReply(res Result, err error) Reply {
	if !res.IsError() {
		res = ResultLocalError
	}
	return Reply{Result: res, Err: err}
}

// DefaultReply is the negative answer for op when nothing handled it.
func DefaultReply(op Op) Reply {
	switch {
	case op.IsUpdate():
		return Reply{Result: ResultNotStored}
	default:
		return Reply{Result: ResultNotFound}
	}
}
