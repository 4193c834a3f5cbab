package mcroute

import "fmt"

// Result is the status carried by a Reply.
type Result uint8

const (
	ResultUnknown Result = iota
	ResultFound
	ResultNotFound
	ResultStored
	ResultStaleStored
	ResultNotStored
	ResultExists
	ResultDeleted
	ResultLocalError
	ResultRemoteError
	ResultTimeout
	ResultConnectError
)

var resultNames = [...]string{
	ResultUnknown:      "unknown",
	ResultFound:        "found",
	ResultNotFound:     "notfound",
	ResultStored:       "stored",
	ResultStaleStored:  "stale_stored",
	ResultNotStored:    "notstored",
	ResultExists:       "exists",
	ResultDeleted:      "deleted",
	ResultLocalError:   "local_error",
	ResultRemoteError:  "remote_error",
	ResultTimeout:      "timeout",
	ResultConnectError: "connect_error",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// IsHit reports a found value.
func (r Result) IsHit() bool { return r == ResultFound }

// IsMiss reports a clean miss.
func (r Result) IsMiss() bool { return r == ResultNotFound }

// IsError reports a failed call as opposed to a negative answer.
func (r Result) IsError() bool {
	switch r {
	case ResultLocalError, ResultRemoteError, ResultTimeout, ResultConnectError:
		return true
	}
	return false
}

// IsStored reports an accepted write.
func (r Result) IsStored() bool { return r == ResultStored || r == ResultStaleStored }

// Severity orders results from best (0) to worst.
// Fan-out nodes return the reply with the highest severity.
func (r Result) Severity() int {
	switch r {
	case ResultFound, ResultStored, ResultStaleStored, ResultDeleted:
		return 0
	case ResultNotFound, ResultNotStored, ResultExists:
		return 1
	case ResultUnknown:
		return 2
	case ResultLocalError:
		return 3
	case ResultRemoteError:
		return 4
	case ResultTimeout:
		return 5
	case ResultConnectError:
		return 6
	}
	return 2
}
