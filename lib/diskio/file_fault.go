// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"

	"git.lukeshu.com/go/typedsync"
)

// FaultError is returned by a FaultyFile for accesses that touch a
// bad region.
type FaultError[A ~int64] struct {
	Op   string
	Addr A
}

func (e *FaultError[A]) Error() string {
	return fmt.Sprintf("%s at %#x: medium error", e.Op, int64(e.Addr))
}

// FaultyFile wraps a File, failing every access that overlaps a
// sector marked bad.  Accesses are truncated at the first bad
// sector, so a short count is returned along with the error.
type FaultyFile[A ~int64] struct {
	File[A]
	SectorSize A

	bad typedsync.Map[A, bool] // sector-aligned address => write-only?
}

var _ File[assertAddr] = (*FaultyFile[assertAddr])(nil)

func NewFaultyFile[A ~int64](inner File[A], sectorSize A) *FaultyFile[A] {
	return &FaultyFile[A]{
		File:       inner,
		SectorSize: sectorSize,
	}
}

// MarkBad makes the sector containing addr fail.  If writeOnly is
// set, reads of the sector still succeed.
func (f *FaultyFile[A]) MarkBad(addr A, writeOnly bool) {
	f.bad.Store(addr-addr%f.SectorSize, writeOnly)
}

// MarkGood undoes MarkBad.
func (f *FaultyFile[A]) MarkGood(addr A) {
	f.bad.Delete(addr - addr%f.SectorSize)
}

func (f *FaultyFile[A]) firstBad(op string, dat []byte, off A) (int, error) {
	beg := off - off%f.SectorSize
	for sec := beg; sec < off+A(len(dat)); sec += f.SectorSize {
		writeOnly, ok := f.bad.Load(sec)
		if !ok || (writeOnly && op == "read") {
			continue
		}
		if sec < off {
			return 0, &FaultError[A]{Op: op, Addr: sec}
		}
		return int(sec - off), &FaultError[A]{Op: op, Addr: sec}
	}
	return len(dat), nil
}

func (f *FaultyFile[A]) ReadAt(dat []byte, off A) (int, error) {
	good, ferr := f.firstBad("read", dat, off)
	n, err := f.File.ReadAt(dat[:good], off)
	if err != nil {
		return n, err
	}
	return n, ferr
}

func (f *FaultyFile[A]) WriteAt(dat []byte, off A) (int, error) {
	good, ferr := f.firstBad("write", dat, off)
	n, err := f.File.WriteAt(dat[:good], off)
	if err != nil {
		return n, err
	}
	return n, ferr
}
