// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package udfstrat implements a read-modify-write caching strategy
// for media that can only be written a whole packet at a time.
//
// Packets are cached in "ecclines".  Callers' byte ranges are split
// across ecclines by Queue; a single scheduler goroutine moves the
// ecclines between queues and performs the device I/O.
package udfstrat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/containers"
	"git.lukeshu.com/udf-progs-ng/lib/diskio"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

type Strategy struct {
	ctx   context.Context //nolint:containedctx // For use by the diskio.File methods.
	cfg   Config
	vol   *udfvol.Volume
	dev   Device
	alloc Allocator

	// allocMu serializes late allocation for sequential writes;
	// it is never held at the same time as mu.
	allocMu sync.Mutex

	// mu protects everything below, as well as the
	// mu-protected fields of each eccline.
	mu sync.Mutex
	// wake is closed (and replaced) to wake anything waiting on
	// a change in the cache.
	wake       chan struct{}
	lines      []eccline // arena; never re-allocated
	freeSlots  []lineHandle
	hash       map[udfprim.PhysicalSector]lineHandle
	queues     [numQueues]containers.LinkedList[lineHandle]
	floating   int
	numLines   int
	numDirty   int
	running    bool
	closed     bool
	flushing   int
	pressure   bool
	bound      queueID
	lastSwitch time.Time
	// lost holds an error for each line whose dirty data was
	// discarded by Close.
	lost []error

	blobs typedsync.Pool[[]byte]

	completions chan completion
	grp         *dgroup.Group
	runErr      error // valid after grp.Wait
}

var _ diskio.File[udfprim.PhysicalAddr] = (*Strategy)(nil)

// New starts a Strategy caching dev.  The allocator is only needed
// for sequential writes (ClassAllocated), and may be nil otherwise.
//
// The scheduler goroutine runs until Close is called or ctx is
// canceled; canceling ctx abandons any dirty data.
func New(ctx context.Context, cfg Config, vol *udfvol.Volume, dev Device, alloc Allocator) (*Strategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("udfstrat.New: %w", err)
	}
	if vol != nil && vol.SectorSize() != cfg.SectorSize {
		return nil, fmt.Errorf("udfstrat.New: sector size %v does not match volume sector size %v",
			cfg.SectorSize, vol.SectorSize())
	}
	s := newStrategy(ctx, cfg, vol, dev, alloc)
	s.grp = dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	s.grp.Go("udf-strat", func(ctx context.Context) error {
		s.runErr = s.run(ctx)
		return s.runErr
	})
	dlog.Debugf(ctx, "started strategy on %q: %d-sector packets of %d-byte sectors, up to %d lines",
		dev.Name(), cfg.PacketSize, cfg.SectorSize, cfg.MaxLines)
	return s, nil
}

// newStrategy sets up a Strategy without starting the scheduler.
func newStrategy(ctx context.Context, cfg Config, vol *udfvol.Volume, dev Device, alloc Allocator) *Strategy {
	s := &Strategy{
		ctx:   ctx,
		cfg:   cfg,
		vol:   vol,
		dev:   dev,
		alloc: alloc,

		wake:      make(chan struct{}),
		lines:     make([]eccline, cfg.MaxLines),
		freeSlots: make([]lineHandle, 0, cfg.MaxLines),
		hash:      make(map[udfprim.PhysicalSector]lineHandle, cfg.MaxLines),
		running:   true,
		bound:     queueReading,

		completions: make(chan completion, cfg.MaxLines),
	}
	s.blobs.New = func() []byte {
		return make([]byte, cfg.packetBytes())
	}
	for i := len(s.lines) - 1; i >= 0; i-- {
		s.lines[i].handle = lineHandle(i)
		s.lines[i].entry.Value = lineHandle(i)
		s.lines[i].queue = queueNone
		s.lines[i].init(cfg.PacketSize)
		s.freeSlots = append(s.freeSlots, lineHandle(i))
	}
	s.lastSwitch = time.Now()
	return s
}

func (s *Strategy) Name() string               { return s.dev.Name() }
func (s *Strategy) Size() udfprim.PhysicalAddr { return s.dev.Size() }
func (s *Strategy) Config() Config             { return s.cfg }

// Close writes back every dirty line, stops the scheduler, and
// closes the device.  A line whose write-back fails
// Config.MaxWriteAttempts times is discarded, and Close returns an
// error wrapping the *IOError of the first such line.
func (s *Strategy) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.running = false
	s.broadcastLocked()
	s.mu.Unlock()

	_ = s.grp.Wait()
	err := s.runErr
	if cerr := s.dev.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Strategy) ReadAt(dat []byte, off udfprim.PhysicalAddr) (int, error) {
	req := &Request{
		Class: ClassData,
		Dir:   DirRead,
		Off:   off,
		Buf:   dat,
	}
	s.Queue(s.ctx, req)
	if err := req.Wait(s.ctx); err != nil {
		return 0, err
	}
	return len(dat), nil
}

func (s *Strategy) WriteAt(dat []byte, off udfprim.PhysicalAddr) (int, error) {
	req := &Request{
		Class: ClassData,
		Dir:   DirWrite,
		Off:   off,
		Buf:   dat,
	}
	s.Queue(s.ctx, req)
	if err := req.Wait(s.ctx); err != nil {
		return 0, err
	}
	return len(dat), nil
}
