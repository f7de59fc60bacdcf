// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"fmt"
	"time"

	"git.lukeshu.com/udf-progs-ng/lib/containers"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

type queueID int8

const (
	queueWaiting queueID = iota
	queueReading
	queueWriting
	queueSeqWriting
	queueIdle
	queueFree
	numQueues

	queueFloating queueID = -1 // popped for servicing
	queueNone     queueID = -2 // arena slot not in use
)

func (q queueID) String() string {
	switch q {
	case queueWaiting:
		return "waiting"
	case queueReading:
		return "reading"
	case queueWriting:
		return "writing"
	case queueSeqWriting:
		return "seqwriting"
	case queueIdle:
		return "idle"
	case queueFree:
		return "free"
	case queueFloating:
		return "floating"
	case queueNone:
		return "none"
	default:
		return fmt.Sprintf("queueID(%d)", int8(q))
	}
}

// lineHandle is an index in to Strategy.lines.
type lineHandle int32

// splitRef is a piece of a caller's read request waiting on a
// sector that isn't present yet.
type splitRef struct {
	req    *Request
	bufOff int
	secOff int
	n      int
}

// eccline caches one packet.
//
// The fields are split by which lock protects them:
//
//   - start, entry, queue, refcnt, locked, wanted, isDirty,
//     waitTime, and writeFails are protected by Strategy.mu.
//   - The bitmaps, blob, sectorErrs, pending, and seqwriting are
//     protected by the content lock (the locked flag); whoever set
//     locked may touch them without holding Strategy.mu.
type eccline struct {
	handle lineHandle
	start  udfprim.PhysicalSector

	entry containers.LinkedListEntry[lineHandle]
	queue queueID

	refcnt   int
	locked   bool
	wanted   bool
	isDirty  bool
	waitTime time.Time
	// writeFails counts consecutive failed write-backs.
	writeFails int

	present, readin, dirty, errs sectorBits
	sectorErrs                   []error
	pending                      [][]splitRef
	seqwriting                   bool
	blob                         []byte
}

func (line *eccline) init(packetSize int) {
	line.present = newSectorBits(packetSize)
	line.readin = newSectorBits(packetSize)
	line.dirty = newSectorBits(packetSize)
	line.errs = newSectorBits(packetSize)
	line.sectorErrs = make([]error, packetSize)
	line.pending = make([][]splitRef, packetSize)
}

// reset prepares a line to cache a different packet.
func (line *eccline) reset(start udfprim.PhysicalSector) {
	for i := range line.pending {
		if len(line.pending[i]) > 0 {
			panic(fmt.Errorf("udfstrat: recycling line %v with pending reads", line.start))
		}
	}
	line.start = start
	line.present.Reset()
	line.readin.Reset()
	line.dirty.Reset()
	line.errs.Reset()
	for i := range line.sectorErrs {
		line.sectorErrs[i] = nil
	}
	line.seqwriting = false
	line.wanted = false
	line.isDirty = false
	line.writeFails = 0
}

// usable returns whether sector i holds data that a reader may be
// given.  A sector whose read failed is present but not usable,
// unless it has since been overwritten.
func (line *eccline) usable(i int) bool {
	return line.present.Get(i) && (!line.errs.Get(i) || line.dirty.Get(i))
}

// deliver satisfies the pending reads of sector i, either from the
// blob or with err.
func (line *eccline) deliver(i, sectorSize int, err error) {
	for _, ref := range line.pending[i] {
		if err != nil {
			ref.req.complete(ref.n, err)
			continue
		}
		off := i*sectorSize + ref.secOff
		copy(ref.req.Buf[ref.bufOff:ref.bufOff+ref.n], line.blob[off:off+ref.n])
		ref.req.complete(ref.n, nil)
	}
	line.pending[i] = nil
}

func (line *eccline) checkInvariants(packetSize int) error {
	for i := 0; i < packetSize; i++ {
		if line.dirty.Get(i) && !line.present.Get(i) {
			return fmt.Errorf("line %v sector %d: dirty but not present", line.start, i)
		}
		if line.readin.Get(i) && line.present.Get(i) {
			return fmt.Errorf("line %v sector %d: readin but present", line.start, i)
		}
		if len(line.pending[i]) > 0 && !line.readin.Get(i) {
			return fmt.Errorf("line %v sector %d: pending reads but not readin", line.start, i)
		}
	}
	if line.queue == queueFree && (line.refcnt != 0 || line.dirty.Any()) {
		return fmt.Errorf("line %v: on free queue with refcnt=%d dirty=%d",
			line.start, line.refcnt, line.dirty.Count())
	}
	return nil
}
