// Package furc implements a stateless consistent hash.
//
// Hash maps a key onto [0, m) so that growing the pool from m to m+1 moves
// only about 1/(m+1) of the keys, and every moved key lands on the new slot m.
// The bit stream comes from MurmurHash64A and the output is compatible with
// other furc implementations, so existing fleets keep their key placement.
//
// After MaxTries candidates fall outside the pool the function returns 0.
// That fallback is part of the contract and must not change.
package furc

const (
	// MaxTries bounds the number of candidates drawn per call.
	MaxTries = 32
	// Shift is the bit-index gap per draw; it caps the pool at 1<<Shift.
	Shift = 23
	// ScratchSize is the number of 64-bit words a Scratch holds.
	ScratchSize = 1024

	murmurSeed = 4193360111
)

// Scratch caches the derived 64-bit words of one call.
// It is caller-owned and may be reused across calls from one goroutine.
type Scratch [ScratchSize]uint64

// MaximumPoolSize returns the largest m accepted by Hash.
func MaximumPoolSize() uint32 { return 1 << Shift }

// Hash returns the shard for key in a pool of m.
func Hash(key []byte, m uint32) uint32 {
	var s Scratch
	return HashArray(key, m, &s)
}

// HashString is Hash for string keys.
func HashString(key string, m uint32) uint32 {
	var s Scratch
	return HashArray([]byte(key), m, &s)
}

// HashArray is Hash with a caller-supplied scratch buffer.
// It panics if m exceeds MaximumPoolSize.
func HashArray(key []byte, m uint32, scratch *Scratch) uint32 {
	if m > MaximumPoolSize() {
		panic("furc: pool size exceeds maximum")
	}
	if m <= 1 {
		return 0
	}

	bs := bitstream{key: key, words: scratch, ord: -1}

	var d uint32
	for m > uint32(1)<<d {
		d++
	}
	a := d
	for try := 0; try < MaxTries; try++ {
		for bs.bit(a) == 0 {
			d--
			if d == 0 {
				return 0
			}
			a = d
		}
		a += Shift
		num := uint32(1)
		for i := uint32(0); i < d-1; i++ {
			num = num<<1 | bs.bit(a)
			a += Shift
		}
		if num < m {
			return num
		}
	}
	return 0
}

// bitstream lazily fills words: word 0 is the key digest and word n is the
// digest of word n-1's little-endian bytes.
type bitstream struct {
	key   []byte
	words *Scratch
	ord   int
}

func (b *bitstream) bit(idx uint32) uint32 {
	ord := int(idx >> 6)
	if b.ord < ord {
		for n := b.ord + 1; n <= ord; n++ {
			if n == 0 {
				b.words[0] = MurmurHash64A(b.key, murmurSeed)
				continue
			}
			b.words[n] = murmurWord(b.words[n-1], murmurSeed)
		}
		b.ord = ord
	}
	return uint32(b.words[ord]>>(idx&63)) & 1
}
