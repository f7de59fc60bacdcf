// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/textui"
)

type Stats struct {
	Waiting    int
	Reading    int
	Writing    int
	SeqWriting int
	Idle       int
	Free       int
	Floating   int

	Lines int
	Dirty int
}

func (st Stats) String() string {
	return textui.Sprintf("lines: %v (%v dirty) waiting=%v reading=%v writing=%v seqwriting=%v idle=%v free=%v floating=%v",
		st.Lines, st.Dirty,
		st.Waiting, st.Reading, st.Writing, st.SeqWriting, st.Idle, st.Free, st.Floating)
}

// busy returns whether the scheduler has anything left to do.
func (st Stats) busy() bool {
	return st.Dirty > 0 || st.Floating > 0 || st.Waiting > 0 || st.Reading > 0 || st.Writing > 0 || st.SeqWriting > 0
}

func (s *Strategy) statsLocked() Stats {
	return Stats{
		Waiting:    s.queues[queueWaiting].Len(),
		Reading:    s.queues[queueReading].Len(),
		Writing:    s.queues[queueWriting].Len(),
		SeqWriting: s.queues[queueSeqWriting].Len(),
		Idle:       s.queues[queueIdle].Len(),
		Free:       s.queues[queueFree].Len(),
		Floating:   s.floating,

		Lines: s.numLines,
		Dirty: s.numDirty,
	}
}

// Stats returns a snapshot of the queue lengths.
func (s *Strategy) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// Flush treats every dirty line as having waited long enough, and
// waits for the scheduler to have nothing left to do.
func (s *Strategy) Flush(ctx context.Context) error {
	progress := textui.NewProgress[Stats](ctx, dlog.LogLevelDebug, textui.Tunable(1*time.Second))
	defer progress.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing++
	defer func() { s.flushing-- }()
	s.broadcastLocked()
	for {
		st := s.statsLocked()
		progress.Set(st)
		if !st.busy() {
			return nil
		}
		if err := s.waitLocked(ctx, s.cfg.RetryTime); err != nil {
			return err
		}
	}
}
