// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"
	"sync"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// ContentClass says what a request's data is, which decides how
// its writes are scheduled.
type ContentClass uint8

const (
	ClassData      ContentClass = iota // file data
	ClassFID                           // directory contents
	ClassNode                          // file entries and other descriptors
	ClassAbsolute                      // descriptors at fixed locations
	ClassAllocated                     // data for newly allocated blocks
)

func (c ContentClass) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassFID:
		return "fid"
	case ClassNode:
		return "node"
	case ClassAbsolute:
		return "absolute"
	case ClassAllocated:
		return "allocated"
	default:
		return fmt.Sprintf("ContentClass(%d)", uint8(c))
	}
}

type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// Request is a caller's I/O: len(Buf) bytes at Off.
//
// ClassAllocated writes ignore Off; instead the blocks are allocated
// in Partition, and the first of them is stored in Location once the
// request has been queued.
type Request struct {
	Class ContentClass
	Dir   Direction
	Off   udfprim.PhysicalAddr
	Buf   []byte

	Partition udfprim.PartitionNum
	Location  udfprim.LogicalBlock

	mu        sync.Mutex
	started   bool
	remaining int
	err       error
	done      chan struct{}
}

func (r *Request) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic(fmt.Errorf("udfstrat: request queued twice"))
	}
	r.started = true
	r.remaining = len(r.Buf)
	r.done = make(chan struct{})
	if r.remaining == 0 {
		close(r.done)
	}
}

// complete accounts for n bytes of the request being finished,
// possibly with an error.  Only the first error is kept.
func (r *Request) complete(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.remaining {
		panic(fmt.Errorf("udfstrat: request over-completed: %d > %d", n, r.remaining))
	}
	if err != nil && r.err == nil {
		r.err = err
	}
	r.remaining -= n
	if r.remaining == 0 {
		close(r.done)
	}
}

// Wait blocks until every byte of the request has been transferred
// (or failed), and returns the first error.
func (r *Request) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		panic(fmt.Errorf("udfstrat: Wait on a request that was never queued"))
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
