// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"io"
	"sync"
)

// MemFile is a fixed-size in-memory File, safe for concurrent use.
type MemFile[A ~int64] struct {
	name string

	mu  sync.RWMutex
	dat []byte

	readCnt, writeCnt int
}

var _ File[assertAddr] = (*MemFile[assertAddr])(nil)

func NewMemFile[A ~int64](name string, size A) *MemFile[A] {
	return &MemFile[A]{
		name: name,
		dat:  make([]byte, size),
	}
}

func (f *MemFile[A]) Name() string { return f.name }
func (f *MemFile[A]) Size() A      { return A(len(f.dat)) }
func (f *MemFile[A]) Close() error { return nil }

func (f *MemFile[A]) ReadAt(dat []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCnt++
	if off < 0 || off > A(len(f.dat)) {
		return 0, fmt.Errorf("%s: read at %v: out of range", f.name, int64(off))
	}
	n := copy(dat, f.dat[off:])
	if n < len(dat) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MemFile[A]) WriteAt(dat []byte, off A) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCnt++
	if off < 0 || off > A(len(f.dat)) {
		return 0, fmt.Errorf("%s: write at %v: out of range", f.name, int64(off))
	}
	n := copy(f.dat[off:], dat)
	if n < len(dat) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Counts returns how many ReadAt and WriteAt calls have been made.
func (f *MemFile[A]) Counts() (reads, writes int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readCnt, f.writeCnt
}
