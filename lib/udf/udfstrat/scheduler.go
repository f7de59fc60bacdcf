// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// completion is sent to the scheduler when all of the device I/O
// for a dispatched line has finished.
type completion struct {
	line *eccline
	op   IOOp
	// errs has one entry per sector of the line; sectors that
	// weren't transferred are nil.
	errs []error
}

// transfer is a parent transfer for a line, made of one or more
// device requests.
type transfer struct {
	s         *Strategy
	line      *eccline
	op        IOOp
	errs      []error
	remaining int32
}

func (x *transfer) subDone(first, count int, res IOResult) {
	for i := 0; i < count; i++ {
		x.errs[first+i] = res.SectorErr(i)
	}
	if atomic.AddInt32(&x.remaining, -1) == 0 {
		x.s.completions <- completion{
			line: x.line,
			op:   x.op,
			errs: x.errs,
		}
	}
}

// run is the scheduler goroutine.
func (s *Strategy) run(ctx context.Context) error {
	inFlight := 0
	for {
		// Completions first; they don't need mu for anything
		// but the final release.
		select {
		case c := <-s.completions:
			s.complete(ctx, c)
			inFlight--
			continue
		default:
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return s.hardStop(ctx)
		}
		now := time.Now()
		nextDeadline := s.maintainLocked(ctx, now)
		if s.cfg.Paranoid {
			s.checkInvariantsLocked()
		}
		if !s.running && s.numLines-s.queues[queueFree].Len() == 0 && s.floating == 0 {
			err := s.exitLocked(ctx)
			s.mu.Unlock()
			return err
		}
		var line *eccline
		var q queueID
		if inFlight < s.cfg.MaxInFlight {
			line, q = s.popLocked(ctx, now)
		}
		wake := s.wake
		s.mu.Unlock()

		if line != nil {
			if ctx.Err() != nil {
				s.mu.Lock()
				s.unpopLocked(line, q)
				s.mu.Unlock()
				return s.hardStop(ctx)
			}
			if s.dispatch(ctx, line, q) {
				inFlight++
			}
			continue
		}

		idle := s.idleTime()
		if !nextDeadline.IsZero() {
			if d := nextDeadline.Sub(now); d < idle {
				idle = d
			}
		}
		timer := time.NewTimer(idle)
		select {
		case c := <-s.completions:
			s.complete(ctx, c)
			inFlight--
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return s.hardStop(ctx)
		}
		timer.Stop()
	}
}

// exitLocked disposes of every line, which must all be FREE, and
// returns the scheduler's exit status.
func (s *Strategy) exitLocked(ctx context.Context) error {
	for !s.queues[queueFree].IsEmpty() {
		s.disposeLocked(s.line(s.queues[queueFree].Oldest().Value))
	}
	s.broadcastLocked()
	dlog.Debug(ctx, "scheduler exiting")
	if len(s.lost) > 0 {
		return fmt.Errorf("udfstrat: discarded %d dirty lines after failed write-back: %w",
			len(s.lost), s.lost[0])
	}
	return nil
}

func (s *Strategy) idleTime() time.Duration {
	d := s.cfg.WaitTime
	if s.cfg.SwitchTime < d {
		d = s.cfg.SwitchTime
	}
	if d < s.cfg.RetryTime {
		d = s.cfg.RetryTime
	}
	return d
}

func (s *Strategy) hardStop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.broadcastLocked()
	if s.numDirty > 0 {
		dlog.Errorf(ctx, "hard stop: abandoning %d dirty lines", s.numDirty)
		return fmt.Errorf("udfstrat: hard stop with %d dirty lines: %w", s.numDirty, ctx.Err())
	}
	return nil
}

// waitElapsedLocked returns whether a dirty line has waited long
// enough to be written back.  A line whose last write-back failed
// always waits out its retry delay.
func (s *Strategy) waitElapsedLocked(line *eccline, now time.Time) bool {
	if line.writeFails > 0 {
		return !now.Before(line.waitTime)
	}
	return !s.running || s.flushing > 0 || s.pressure || !now.Before(line.waitTime)
}

// abandonLocked discards the dirty data of a line that has failed
// write-back too many times while closing, and frees the line.
func (s *Strategy) abandonLocked(ctx context.Context, line *eccline) {
	var err error
	for i := 0; i < s.cfg.PacketSize; i++ {
		if line.dirty.Get(i) && line.sectorErrs[i] != nil {
			err = line.sectorErrs[i]
			break
		}
	}
	if err == nil {
		err = fmt.Errorf("line %v: write-back failed", line.start)
	}
	dlog.Errorf(ctx, "discarding %d dirty sectors of line %v after %d failed write-backs: %v",
		line.dirty.Count(), line.start, line.writeFails, err)
	s.lost = append(s.lost, err)
	line.dirty.Reset()
	line.seqwriting = false
	line.isDirty = false
	s.numDirty--
	s.moveLocked(line, queueFree)
}

// maintainLocked decides the next disposition of every line on
// WAITING, and trims FREE.  It returns the earliest write-back
// deadline of the dirty lines left on WAITING, or the zero Time if
// there are none.
//
// Lines on WAITING are never content-locked (acquire moves lines to
// IDLE), so their bitmaps may be read here.
func (s *Strategy) maintainLocked(ctx context.Context, now time.Time) time.Time {
	// Lines left on IDLE that nobody is using or waiting for.
	for entry := s.queues[queueIdle].Oldest(); entry != nil; {
		next := entry.Newer()
		line := s.line(entry.Value)
		if line.refcnt == 0 && !line.locked && !line.wanted {
			s.moveLocked(line, queueWaiting)
		}
		entry = next
	}

	var deadline time.Time
	for entry := s.queues[queueWaiting].Oldest(); entry != nil; {
		next := entry.Newer()
		line := s.line(entry.Value)
		switch {
		case line.refcnt == 0 && !line.wanted && !line.readin.Any() && !line.dirty.Any():
			s.moveLocked(line, queueFree)
		case line.refcnt > 0 || line.wanted:
			line.wanted = false
			s.moveLocked(line, queueIdle)
		case line.readin.Any():
			s.moveLocked(line, queueReading)
		case !s.running && line.writeFails >= s.cfg.maxWriteAttempts():
			s.abandonLocked(ctx, line)
		default: // dirty
			hold := !s.waitElapsedLocked(line, now) && (!line.seqwriting || line.writeFails > 0)
			switch {
			case hold:
				if deadline.IsZero() || line.waitTime.Before(deadline) {
					deadline = line.waitTime
				}
			case !line.present.Full(s.cfg.PacketSize):
				s.moveLocked(line, queueReading)
			case line.seqwriting:
				s.moveLocked(line, queueSeqWriting)
			default:
				s.moveLocked(line, queueWriting)
			}
		}
		entry = next
	}

	for s.queues[queueFree].Len() > s.cfg.MaxFree {
		s.disposeLocked(s.line(s.queues[queueFree].Oldest().Value))
	}
	if s.pressure && (len(s.freeSlots) > 0 || !s.queues[queueFree].IsEmpty()) {
		s.pressure = false
		s.broadcastLocked()
	}
	return deadline
}

// popLocked picks the next line to service from the bound queue,
// switching queues if need be.  The returned line is floating and
// content-locked by the scheduler.
func (s *Strategy) popLocked(ctx context.Context, now time.Time) (*eccline, queueID) {
	if s.queues[s.bound].IsEmpty() {
		switched := false
		for _, q := range []queueID{queueReading, queueSeqWriting, queueWriting} {
			if q != s.bound && !s.queues[q].IsEmpty() {
				dlog.Debugf(ctx, "switching from %v to %v", s.bound, q)
				s.bound = q
				s.lastSwitch = now
				switched = true
				break
			}
		}
		if !switched && s.bound != queueReading && now.Sub(s.lastSwitch) >= s.cfg.SwitchTime {
			dlog.Debugf(ctx, "switching from %v to %v (idle)", s.bound, queueReading)
			s.bound = queueReading
			s.lastSwitch = now
		}
	}
	entry := s.queues[s.bound].Oldest()
	if entry == nil {
		return nil, 0
	}
	line := s.line(entry.Value)
	if line.locked {
		panic(fmt.Errorf("udfstrat: line %v on %v is locked", line.start, s.bound))
	}
	q := s.bound
	s.moveLocked(line, queueFloating)
	line.locked = true
	line.refcnt++
	return line, q
}

// unpopLocked undoes popLocked without servicing the line, putting
// it on q.
func (s *Strategy) unpopLocked(line *eccline, q queueID) {
	line.locked = false
	line.refcnt--
	s.moveLocked(line, q)
}

// dispatch starts the I/O for a line popped by popLocked.  It
// returns true if device I/O is now outstanding; otherwise the line
// has already been dealt with.
func (s *Strategy) dispatch(ctx context.Context, line *eccline, q queueID) bool {
	ctx = dlog.WithField(ctx, "udf.strat.queue", q)
	ctx = dlog.WithField(ctx, "udf.strat.sector", line.start)
	ss := s.cfg.SectorSize

	switch q {
	case queueReading:
		xfer := &transfer{
			s:    s,
			line: line,
			op:   OpRead,
			errs: make([]error, s.cfg.PacketSize),
		}
		type run struct{ beg, end int }
		var runs []run
		for i := 0; i < s.cfg.PacketSize; i++ {
			if line.present.Get(i) {
				continue
			}
			if len(runs) > 0 && runs[len(runs)-1].end == i {
				runs[len(runs)-1].end++
			} else {
				runs = append(runs, run{beg: i, end: i + 1})
			}
		}
		if len(runs) == 0 {
			dlog.Tracef(ctx, "nothing to read")
			s.complete(ctx, completion{line: line, op: OpRead, errs: xfer.errs})
			return false
		}
		xfer.remaining = int32(len(runs))
		dlog.Tracef(ctx, "dispatch read of %d runs", len(runs))
		for _, r := range runs {
			r := r
			s.dev.Submit(IORequest{
				Op:     OpRead,
				Sector: line.start.Add(int64(r.beg)),
				Buf:    line.blob[r.beg*ss : r.end*ss],
			}, func(res IOResult) {
				xfer.subDone(r.beg, r.end-r.beg, res)
			})
		}
		return true
	case queueWriting, queueSeqWriting:
		if !line.present.Full(s.cfg.PacketSize) {
			// Can't write back a packet we don't fully know.
			dlog.Tracef(ctx, "not fully present; requeueing for read")
			s.mu.Lock()
			s.unpopLocked(line, queueReading)
			s.mu.Unlock()
			return false
		}
		xfer := &transfer{
			s:         s,
			line:      line,
			op:        OpWrite,
			errs:      make([]error, s.cfg.PacketSize),
			remaining: 1,
		}
		dlog.Tracef(ctx, "dispatch write")
		s.dev.Submit(IORequest{
			Op:     OpWrite,
			Sector: line.start,
			Buf:    line.blob,
		}, func(res IOResult) {
			xfer.subDone(0, s.cfg.PacketSize, res)
		})
		return true
	default:
		panic(fmt.Errorf("udfstrat: dispatch from queue %v", q))
	}
}

// complete processes finished device I/O for a line; it runs on the
// scheduler goroutine, which holds the line's content lock.
func (s *Strategy) complete(ctx context.Context, c completion) {
	line := c.line
	ctx = dlog.WithField(ctx, "udf.strat.op", c.op)
	ctx = dlog.WithField(ctx, "udf.strat.sector", line.start)
	ss := s.cfg.SectorSize

	switch c.op {
	case OpRead:
		for i := 0; i < s.cfg.PacketSize; i++ {
			if line.present.Get(i) {
				continue
			}
			line.present.Set(i)
			if err := c.errs[i]; err != nil {
				dlog.Errorf(ctx, "sector %v: %v", line.start.Add(int64(i)), err)
				blob := line.blob[i*ss : (i+1)*ss]
				for j := range blob {
					blob[j] = 0
				}
				line.errs.Set(i)
				line.sectorErrs[i] = &IOError{Op: "read", Sector: line.start.Add(int64(i)), Err: err}
			} else {
				line.errs.Clear(i)
				line.sectorErrs[i] = nil
			}
		}
		for i := 0; i < s.cfg.PacketSize; i++ {
			if len(line.pending[i]) == 0 {
				continue
			}
			var err error
			if !line.usable(i) {
				err = line.sectorErrs[i]
			}
			line.deliver(i, ss, err)
		}
		line.readin.Reset()
	case OpWrite:
		for i := 0; i < s.cfg.PacketSize; i++ {
			if err := c.errs[i]; err != nil {
				line.errs.Set(i)
				line.sectorErrs[i] = &IOError{Op: "write", Sector: line.start.Add(int64(i)), Err: err}
				continue
			}
			line.dirty.Clear(i)
			line.errs.Clear(i)
			line.sectorErrs[i] = nil
		}
		failed := line.dirty.Any()
		if failed {
			dlog.Errorf(ctx, "write-back failed for %d sectors; keeping them dirty", line.dirty.Count())
		} else {
			line.seqwriting = false
		}
		s.mu.Lock()
		if failed {
			line.writeFails++
		} else {
			line.writeFails = 0
		}
		s.mu.Unlock()
	}
	s.release(line)
}

func (s *Strategy) checkInvariantsLocked() {
	seen := make(map[lineHandle]udfprim.PhysicalSector, len(s.hash))
	for start, h := range s.hash {
		line := s.line(h)
		if line.start != start {
			panic(fmt.Errorf("udfstrat: hash entry %v points at line %v", start, line.start))
		}
		if other, dup := seen[h]; dup {
			panic(fmt.Errorf("udfstrat: hash entries %v and %v share a line", other, start))
		}
		seen[h] = start
		if line.queue == queueNone {
			panic(fmt.Errorf("udfstrat: hashed line %v is not on any queue", start))
		}
		if line.locked {
			if line.queue != queueIdle && line.queue != queueFloating {
				panic(fmt.Errorf("udfstrat: locked line %v on queue %v", start, line.queue))
			}
			continue
		}
		if err := line.checkInvariants(s.cfg.PacketSize); err != nil {
			panic(fmt.Errorf("udfstrat: %w", err))
		}
	}
	total := s.floating
	for q := queueID(0); q < numQueues; q++ {
		total += s.queues[q].Len()
	}
	if total != s.numLines || total != len(s.hash) {
		panic(fmt.Errorf("udfstrat: %d lines on queues, %d lines hashed, but %d lines allocated",
			total, len(s.hash), s.numLines))
	}
}
