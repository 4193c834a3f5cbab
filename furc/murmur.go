package furc

import "encoding/binary"

const (
	murmurM = 0xc6a4a7935bd1e995
	murmurR = 47

	// 8*murmurM mod 2^64, the length mix for a single word.
	murmurWordLen = 0x35253c9ade8f4ca8
)

// MurmurHash64A is Austin Appleby's 64-bit MurmurHash2 (little-endian reads).
func MurmurHash64A(data []byte, seed uint32) uint64 {
	h := uint64(seed) ^ uint64(len(data))*murmurM

	n := len(data) &^ 7
	for i := 0; i < n; i += 8 {
		k := binary.LittleEndian.Uint64(data[i:])
		k *= murmurM
		k ^= k >> murmurR
		k *= murmurM
		h ^= k
		h *= murmurM
	}

	tail := data[n:]
	switch len(tail) {
	case 7:
		h ^= uint64(tail[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(tail[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(tail[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(tail[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(tail[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(tail[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(tail[0])
		h *= murmurM
	}

	h ^= h >> murmurR
	h *= murmurM
	h ^= h >> murmurR
	return h
}

// murmurWord hashes the 8 little-endian bytes of w without allocating.
func murmurWord(w uint64, seed uint32) uint64 {
	h := uint64(seed) ^ murmurWordLen
	k := w * murmurM
	k ^= k >> murmurR
	k *= murmurM
	h ^= k
	h *= murmurM

	h ^= h >> murmurR
	h *= murmurM
	h ^= h >> murmurR
	return h
}
