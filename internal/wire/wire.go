// Package wire frames cache items for stores that only keep raw bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("mcroute: corrupt item")
	magic4     = [...]byte{'M', 'C', 'R', 'T'}
)

// Item is a decoded frame. Value aliases the encoded buffer.
type Item struct {
	Flags    uint64
	Deadline int64 // unix seconds; 0 = never expires
	Value    []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode: magic(4) | ver(1) | flags(u64 be) | deadline(i64 be) | vlen(u32 be) | value(vlen)
func Encode(it Item) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(it.Value))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], it.Flags)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(it.Deadline))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(it.Value)))
	buf.Write(u4[:])

	buf.Write(it.Value)
	return buf.Bytes()
}

// Decode parses a frame. Value is a zero-copy slice of b.
func Decode(b []byte) (Item, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Item{}, ErrCorrupt
	}

	off := 5

	flags := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	deadline := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // trailing bytes are corruption too
		return Item{}, ErrCorrupt
	}

	return Item{Flags: flags, Deadline: deadline, Value: b[off : off+vlen]}, nil
}

// Expired reports whether the item's deadline is at or before now (unix seconds).
func (it Item) Expired(now int64) bool {
	return it.Deadline != 0 && it.Deadline <= now
}

// Remaining returns whole seconds left before the deadline (0 = no deadline).
// An expired item reports 1 so callers never read it as "no expiry".
func (it Item) Remaining(now int64) uint32 {
	if it.Deadline == 0 {
		return 0
	}
	left := it.Deadline - now
	if left < 1 {
		return 1
	}
	if left > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(left)
}

// MaxRelativeExptime is the largest exptime read as relative seconds.
// Larger values are absolute unix times, as in memcached.
const MaxRelativeExptime = 60 * 60 * 24 * 30

// Deadline converts a request exptime to an absolute deadline (0 = never).
func Deadline(now int64, exptime uint32) int64 {
	switch {
	case exptime == 0:
		return 0
	case exptime <= MaxRelativeExptime:
		return now + int64(exptime)
	default:
		return int64(exptime)
	}
}
