// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"
	"sync"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

// Allocator chooses the logical blocks that a sequential write's
// data goes to.  Calls are serialized by the Strategy.
type Allocator interface {
	Allocate(ctx context.Context, part udfprim.PartitionNum, count int) ([]udfprim.LogicalBlock, error)
}

// SequentialAllocator hands out blocks in increasing order from a
// per-partition "next" pointer, as is done when writing to
// sequentially-recordable media.
type SequentialAllocator struct {
	vol *udfvol.Volume

	mu   sync.Mutex
	next map[udfprim.PartitionNum]udfprim.LogicalBlock
}

var _ Allocator = (*SequentialAllocator)(nil)

func NewSequentialAllocator(vol *udfvol.Volume) *SequentialAllocator {
	return &SequentialAllocator{
		vol:  vol,
		next: make(map[udfprim.PartitionNum]udfprim.LogicalBlock),
	}
}

// SetNext sets the next block to be allocated in a partition.
func (a *SequentialAllocator) SetNext(part udfprim.PartitionNum, lb udfprim.LogicalBlock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[part] = lb
}

// Next returns the next block that will be allocated in a partition.
func (a *SequentialAllocator) Next(part udfprim.PartitionNum) udfprim.LogicalBlock {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next[part]
}

func (a *SequentialAllocator) Allocate(_ context.Context, part udfprim.PartitionNum, count int) ([]udfprim.LogicalBlock, error) {
	if count <= 0 {
		return nil, fmt.Errorf("allocate %d blocks: invalid count", count)
	}
	size, err := a.vol.PartitionLength(part)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.next[part]
	if uint64(next)+uint64(count) > uint64(size) {
		return nil, fmt.Errorf("allocate %d blocks in partition %v: %w", count, part, ErrNoSpace)
	}
	ret := make([]udfprim.LogicalBlock, count)
	for i := range ret {
		ret[i] = next + udfprim.LogicalBlock(i)
	}
	a.next[part] = next + udfprim.LogicalBlock(count)
	return ret, nil
}
