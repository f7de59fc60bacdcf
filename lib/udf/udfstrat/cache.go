// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"
	"time"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// broadcastLocked wakes everything blocked in waitLocked, and the
// scheduler.
func (s *Strategy) broadcastLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// waitLocked drops mu until either broadcastLocked is called or d
// passes.  The caller must re-check whatever it was waiting for.
func (s *Strategy) waitLocked(ctx context.Context, d time.Duration) error {
	wake := s.wake
	timer := time.NewTimer(d)
	s.mu.Unlock()
	defer s.mu.Lock()
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Strategy) line(h lineHandle) *eccline {
	return &s.lines[h]
}

func (s *Strategy) packetStart(sector udfprim.PhysicalSector) udfprim.PhysicalSector {
	return sector - sector%udfprim.PhysicalSector(s.cfg.PacketSize)
}

// moveLocked takes a line off of whatever queue it is on (if any)
// and puts it on the newest end of q.
func (s *Strategy) moveLocked(line *eccline, q queueID) {
	switch line.queue {
	case queueFloating:
		s.floating--
	case queueNone:
	default:
		s.queues[line.queue].Delete(&line.entry)
	}
	line.queue = q
	switch q {
	case queueFloating:
		s.floating++
	case queueNone:
	default:
		s.queues[q].Store(&line.entry)
	}
}

// allocLocked finds an arena slot for a new line, recycling the
// oldest FREE line if the arena is exhausted.
func (s *Strategy) allocLocked() (*eccline, bool) {
	if n := len(s.freeSlots); n > 0 {
		h := s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
		line := s.line(h)
		line.blob, _ = s.blobs.Get()
		s.numLines++
		return line, true
	}
	if entry := s.queues[queueFree].Oldest(); entry != nil {
		line := s.line(entry.Value)
		delete(s.hash, line.start)
		s.moveLocked(line, queueNone)
		return line, true
	}
	return nil, false
}

// disposeLocked returns a FREE line's arena slot.
func (s *Strategy) disposeLocked(line *eccline) {
	if line.queue != queueFree {
		panic(fmt.Errorf("udfstrat: disposing of line %v on queue %v", line.start, line.queue))
	}
	delete(s.hash, line.start)
	s.moveLocked(line, queueNone)
	s.blobs.Put(line.blob)
	line.blob = nil
	s.freeSlots = append(s.freeSlots, line.handle)
	s.numLines--
}

// acquire returns the content-locked line caching the packet that
// contains sector, creating it if need be.  It waits (with bounded
// retries) for the content lock or for a line to become available;
// it only fails if ctx is canceled.
func (s *Strategy) acquire(ctx context.Context, sector udfprim.PhysicalSector) (*eccline, error) {
	start := s.packetStart(sector)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if h, ok := s.hash[start]; ok {
			line := s.line(h)
			if line.locked {
				line.wanted = true
				if err := s.waitLocked(ctx, s.cfg.RetryTime); err != nil {
					return nil, err
				}
				continue
			}
			if line.queue != queueFloating {
				s.moveLocked(line, queueIdle)
			}
			line.locked = true
			line.wanted = false
			line.refcnt++
			return line, nil
		}
		if !s.running {
			return nil, ErrClosed
		}
		line, ok := s.allocLocked()
		if !ok {
			s.pressure = true
			s.broadcastLocked()
			if err := s.waitLocked(ctx, s.cfg.RetryTime); err != nil {
				return nil, err
			}
			continue
		}
		line.reset(start)
		s.hash[start] = line.handle
		s.moveLocked(line, queueIdle)
		line.locked = true
		line.refcnt = 1
		return line, nil
	}
}

// release drops the content lock and a reference, and hands the
// line to the scheduler by putting it on WAITING.  This is all one
// transaction under mu; the scheduler decides where it really goes.
func (s *Strategy) release(line *eccline) {
	// The caller still holds the content lock, so it's safe to
	// look at the bitmaps.
	line.readin.AndNot(line.present)
	nowDirty := line.dirty.Any()

	s.mu.Lock()
	defer s.mu.Unlock()
	if line.refcnt <= 0 {
		panic(fmt.Errorf("udfstrat: release of line %v with refcnt=%d", line.start, line.refcnt))
	}
	if !line.locked {
		panic(fmt.Errorf("udfstrat: release of unlocked line %v", line.start))
	}
	line.refcnt--
	line.locked = false
	switch {
	case nowDirty && !line.isDirty:
		s.numDirty++
	case !nowDirty && line.isDirty:
		s.numDirty--
	}
	wait := s.cfg.WaitTime
	if line.writeFails > 0 {
		wait = s.cfg.RetryTime
	}
	line.waitTime = time.Now().Add(wait)
	line.isDirty = nowDirty
	s.moveLocked(line, queueWaiting)
	s.broadcastLocked()
}
