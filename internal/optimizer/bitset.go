package optimizer

import (
	"strconv"
	"strings"
)

// bitset is a fixed-size set of small integers.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int) bitset {
	out := b.clone()
	out[i/64] |= 1 << (uint(i) % 64)
	return out
}

func (b bitset) has(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

func (b bitset) clone() bitset {
	out := make(bitset, len(b))
	copy(out, b)
	return out
}

func (b bitset) union(o bitset) bitset {
	out := b.clone()
	for i := range o {
		out[i] |= o[i]
	}
	return out
}

func (b bitset) disjoint(o bitset) bool {
	for i := range b {
		if b[i]&o[i] != 0 {
			return false
		}
	}
	return true
}

func (b bitset) key() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = strconv.FormatUint(w, 16)
	}
	return strings.Join(parts, ".")
}
