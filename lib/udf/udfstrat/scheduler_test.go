// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/udf-progs-ng/lib/diskio"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

const (
	schedSectorSize = 512
	schedPacketSize = 4
)

// newStoppedStrategy returns a Strategy whose scheduler is not
// running, so that the tests can step it by hand.
func newStoppedStrategy(t *testing.T) (context.Context, *Strategy) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	cfg := DefaultConfig(schedSectorSize, schedPacketSize)
	cfg.WaitTime = time.Second
	cfg.SwitchTime = 10 * time.Second
	cfg.RetryTime = 100 * time.Millisecond
	require.NoError(t, cfg.validate())
	mem := diskio.NewMemFile[udfprim.PhysicalAddr](t.Name(), 64*schedPacketSize*schedSectorSize)
	return ctx, newStrategy(ctx, cfg, nil, NewFileDevice(mem, schedSectorSize), nil)
}

// stage creates the line for the packet holding sector, lets fn set
// it up while it is content-locked, and releases it on to WAITING.
func stage(t *testing.T, ctx context.Context, s *Strategy, sector udfprim.PhysicalSector, fn func(*eccline)) *eccline {
	t.Helper()
	line, err := s.acquire(ctx, sector)
	require.NoError(t, err)
	if fn != nil {
		fn(line)
	}
	s.release(line)
	return line
}

func fillPresent(line *eccline) {
	for i := 0; i < schedPacketSize; i++ {
		line.present.Set(i)
	}
}

func dirtyFull(line *eccline) {
	fillPresent(line)
	line.dirty.Set(0)
}

func dirtyPartial(line *eccline) {
	line.present.Set(0)
	line.dirty.Set(0)
}

func failedWrite(fails int) func(*eccline) {
	return func(line *eccline) {
		dirtyFull(line)
		line.errs.Set(0)
		line.sectorErrs[0] = &IOError{Op: "write", Sector: line.start, Err: errors.New("medium error")}
		line.writeFails = fails
	}
}

func TestMaintainDisposition(t *testing.T) {
	t.Parallel()
	type testcase struct {
		Setup    func(*eccline)
		Closing  bool
		Flushing bool
		Later    bool // maintain once WaitTime has passed
		Expected queueID
	}
	testcases := map[string]testcase{
		"clean":               {Setup: fillPresent, Expected: queueFree},
		"readin":              {Setup: func(line *eccline) { line.readin.Set(1) }, Expected: queueReading},
		"wanted":              {Setup: func(line *eccline) { fillPresent(line); line.wanted = true }, Expected: queueIdle},
		"dirty-fresh":         {Setup: dirtyFull, Expected: queueWaiting},
		"dirty-elapsed":       {Setup: dirtyFull, Later: true, Expected: queueWriting},
		"dirty-flushing":      {Setup: dirtyFull, Flushing: true, Expected: queueWriting},
		"dirty-closing":       {Setup: dirtyFull, Closing: true, Expected: queueWriting},
		"partial-fresh":       {Setup: dirtyPartial, Expected: queueWaiting},
		"partial-elapsed":     {Setup: dirtyPartial, Later: true, Expected: queueReading},
		"seqwriting-full":     {Setup: func(line *eccline) { dirtyFull(line); line.seqwriting = true }, Expected: queueSeqWriting},
		"seqwriting-partial":  {Setup: func(line *eccline) { dirtyPartial(line); line.seqwriting = true }, Expected: queueReading},
		"failed-flushing":     {Setup: failedWrite(1), Flushing: true, Expected: queueWaiting},
		"failed-closing":      {Setup: failedWrite(1), Closing: true, Expected: queueWaiting},
		"failed-retry-due":    {Setup: failedWrite(1), Closing: true, Later: true, Expected: queueWriting},
		"failed-seqwriting":   {Setup: func(line *eccline) { failedWrite(1)(line); line.seqwriting = true }, Expected: queueWaiting},
		"failed-running-long": {Setup: failedWrite(5), Later: true, Expected: queueWriting},
		"failed-give-up":      {Setup: failedWrite(3), Closing: true, Expected: queueFree},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx, s := newStoppedStrategy(t)
			line := stage(t, ctx, s, 5, tc.Setup)

			now := time.Now()
			if tc.Later {
				now = now.Add(2 * s.cfg.WaitTime)
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.running = !tc.Closing
			if tc.Flushing {
				s.flushing++
			}
			deadline := s.maintainLocked(ctx, now)

			assert.Equal(t, tc.Expected, line.queue)
			if tc.Expected == queueWaiting {
				assert.Equal(t, line.waitTime, deadline)
			} else {
				assert.True(t, deadline.IsZero(), "deadline=%v", deadline)
			}
			assert.NoError(t, line.checkInvariants(schedPacketSize))
		})
	}
}

func TestMaintainGivesUpOnlyWhenClosing(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	line := stage(t, ctx, s, 0, failedWrite(3))
	later := time.Now().Add(2 * s.cfg.WaitTime)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, s.numDirty)
	s.maintainLocked(ctx, later)
	assert.Equal(t, queueWriting, line.queue)
	assert.Empty(t, s.lost)

	s.moveLocked(line, queueWaiting)
	s.running = false
	s.maintainLocked(ctx, later)
	assert.Equal(t, queueFree, line.queue)
	assert.False(t, line.dirty.Any())
	assert.Equal(t, 0, s.numDirty)
	require.Len(t, s.lost, 1)
	var ioErr *IOError
	require.ErrorAs(t, s.lost[0], &ioErr)
	assert.Equal(t, line.start, ioErr.Sector)

	assert.ErrorAs(t, s.exitLocked(ctx), &ioErr)
	assert.Equal(t, 0, s.numLines)
}

func TestPopLockedBinding(t *testing.T) {
	t.Parallel()
	type kind int
	const (
		read kind = iota
		write
		seqwrite
	)
	setups := map[kind]func(*eccline){
		read:     func(line *eccline) { line.readin.Set(0) },
		write:    dirtyFull,
		seqwrite: func(line *eccline) { dirtyFull(line); line.seqwriting = true },
	}
	type testcase struct {
		Lines    []kind
		Bound    queueID
		Expected []int // indexes in to Lines, in pop order
	}
	testcases := map[string]testcase{
		"drain-bound-first": {
			Lines:    []kind{read, write, write},
			Bound:    queueWriting,
			Expected: []int{1, 2, 0},
		},
		"switch-order": {
			Lines:    []kind{write, seqwrite, read},
			Bound:    queueReading,
			Expected: []int{2, 1, 0},
		},
		"from-empty": {
			Lines:    []kind{seqwrite, read},
			Bound:    queueWriting,
			Expected: []int{1, 0},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx, s := newStoppedStrategy(t)
			var lines []*eccline
			for i, k := range tc.Lines {
				lines = append(lines, stage(t, ctx, s, udfprim.PhysicalSector(i*schedPacketSize), setups[k]))
			}
			now := time.Now().Add(2 * s.cfg.WaitTime)

			s.mu.Lock()
			defer s.mu.Unlock()
			s.maintainLocked(ctx, now)
			s.bound = tc.Bound
			for _, idx := range tc.Expected {
				line, q := s.popLocked(ctx, now)
				require.Same(t, lines[idx], line, "expected line %d", idx)
				assert.Equal(t, q, s.bound)
				assert.Equal(t, queueFloating, line.queue)
				assert.True(t, line.locked)
			}
			line, _ := s.popLocked(ctx, now)
			assert.Nil(t, line)
		})
	}
}

func TestPopLockedIdleRebind(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = queueWriting
	s.lastSwitch = start

	line, _ := s.popLocked(ctx, start.Add(s.cfg.SwitchTime/2))
	assert.Nil(t, line)
	assert.Equal(t, queueWriting, s.bound)

	line, _ = s.popLocked(ctx, start.Add(s.cfg.SwitchTime))
	assert.Nil(t, line)
	assert.Equal(t, queueReading, s.bound)
	assert.Equal(t, start.Add(s.cfg.SwitchTime), s.lastSwitch)
}

func TestAcquireRevivesFreeLine(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	line := stage(t, ctx, s, 5, fillPresent)

	s.mu.Lock()
	s.maintainLocked(ctx, time.Now())
	require.Equal(t, queueFree, line.queue)
	s.mu.Unlock()

	again, err := s.acquire(ctx, 6)
	require.NoError(t, err)
	assert.Same(t, line, again)
	assert.Equal(t, queueIdle, again.queue)
	assert.True(t, again.locked)
	assert.Equal(t, 1, again.refcnt)
	assert.True(t, again.present.Full(schedPacketSize))
	s.release(again)
	assert.Equal(t, queueWaiting, again.queue)
}

func TestDispatchRereadsPartialLine(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	line := stage(t, ctx, s, 0, dirtyPartial)

	s.mu.Lock()
	s.moveLocked(line, queueWriting)
	s.bound = queueWriting
	popped, q := s.popLocked(ctx, time.Now())
	s.mu.Unlock()
	require.Same(t, line, popped)
	require.Equal(t, queueWriting, q)

	assert.False(t, s.dispatch(ctx, popped, q))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, queueReading, line.queue)
	assert.False(t, line.locked)
	assert.Equal(t, 0, line.refcnt)
	assert.Equal(t, 0, s.floating)
}

func TestReleaseRestartsWaitTime(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	line := stage(t, ctx, s, 0, dirtyFull)
	s.mu.Lock()
	first := line.waitTime
	s.mu.Unlock()

	time.Sleep(time.Millisecond)
	stage(t, ctx, s, 0, nil)
	s.mu.Lock()
	assert.True(t, line.waitTime.After(first))
	s.mu.Unlock()

	stage(t, ctx, s, 0, func(line *eccline) { line.writeFails = 1 })
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(s.cfg.RetryTime), line.waitTime, s.cfg.RetryTime/2)
}

// noIODevice fails the test if anything is submitted to it.
type noIODevice struct {
	Device
	t *testing.T
}

func (dev noIODevice) Submit(req IORequest, _ func(IOResult)) {
	dev.t.Errorf("unexpected %v of sector %v", req.Op, req.Sector)
}

func TestRunHardStopsBeforeDispatch(t *testing.T) {
	t.Parallel()
	ctx, s := newStoppedStrategy(t)
	s.dev = noIODevice{Device: s.dev, t: t}
	line := stage(t, ctx, s, 0, dirtyFull)

	// Closing would make the line due at once; cancellation
	// has to win.
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	s.mu.Lock()
	s.running = false
	s.broadcastLocked()
	s.mu.Unlock()

	err := s.run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, queueWaiting, line.queue)
	assert.Equal(t, 1, s.numDirty)
}
