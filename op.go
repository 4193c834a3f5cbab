package mcroute

import "fmt"

// Op is a cache protocol operation.
type Op uint8

const (
	OpUnknown Op = iota
	OpGet
	OpMetaGet
	OpLeaseGet
	OpSet
	OpAdd
	OpReplace
	OpLeaseSet
	OpDelete
	OpIncr
	OpDecr
)

var opNames = [...]string{
	OpUnknown:  "unknown",
	OpGet:      "get",
	OpMetaGet:  "metaget",
	OpLeaseGet: "lease-get",
	OpSet:      "set",
	OpAdd:      "add",
	OpReplace:  "replace",
	OpLeaseSet: "lease-set",
	OpDelete:   "delete",
	OpIncr:     "incr",
	OpDecr:     "decr",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp maps a name produced by Op.String back to the Op.
func ParseOp(s string) (Op, error) {
	for i, n := range opNames {
		if i != int(OpUnknown) && n == s {
			return Op(i), nil
		}
	}
	return OpUnknown, fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// IsGet reports whether o reads a value.
func (o Op) IsGet() bool { return o == OpGet || o == OpMetaGet || o == OpLeaseGet }

// IsUpdate reports whether o stores a value.
func (o Op) IsUpdate() bool {
	return o == OpSet || o == OpAdd || o == OpReplace || o == OpLeaseSet
}

// IsArith reports whether o is incr or decr.
func (o Op) IsArith() bool { return o == OpIncr || o == OpDecr }

// IsMutation reports whether o changes backend state.
func (o Op) IsMutation() bool { return o.IsUpdate() || o.IsArith() || o == OpDelete }
