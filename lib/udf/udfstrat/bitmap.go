// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"math/bits"
)

// sectorBits is a one-bit-per-sector bitmap over an eccline.
type sectorBits []uint64

func newSectorBits(n int) sectorBits {
	return make(sectorBits, (n+63)/64)
}

func (b sectorBits) Get(i int) bool { return b[i/64]&(1<<(i%64)) != 0 }
func (b sectorBits) Set(i int)      { b[i/64] |= 1 << (i % 64) }
func (b sectorBits) Clear(i int)    { b[i/64] &^= 1 << (i % 64) }

func (b sectorBits) Any() bool {
	for _, w := range b {
		if w != 0 {
			return true
		}
	}
	return false
}

func (b sectorBits) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Full returns whether all of the first n bits are set.
func (b sectorBits) Full(n int) bool {
	return b.Count() == n
}

// AndNot clears every bit that is set in other.
func (b sectorBits) AndNot(other sectorBits) {
	for i := range b {
		b[i] &^= other[i]
	}
}

// Intersects returns whether any bit is set in both.
func (b sectorBits) Intersects(other sectorBits) bool {
	for i := range b {
		if b[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

func (b sectorBits) Reset() {
	for i := range b {
		b[i] = 0
	}
}
