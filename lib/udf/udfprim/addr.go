// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package udfprim holds the primitive address types and on-disk
// allocation descriptors shared by the translator and the strategy
// engine.
package udfprim

import (
	"fmt"

	"git.lukeshu.com/udf-progs-ng/lib/fmtutil"
)

type (
	// LogicalBlock is a block number relative to a logical
	// partition.
	LogicalBlock uint32
	// PhysicalSector is a sector number relative to the start of
	// the medium.
	PhysicalSector int64
	// PhysicalAddr is a byte offset relative to the start of the
	// medium.
	PhysicalAddr int64
	// PartitionNum is a logical partition reference number.
	PartitionNum uint16
)

// RawPartition addresses the medium directly, bypassing any
// partition mapping.
const RawPartition PartitionNum = 0xffff

func (a LogicalBlock) Format(f fmt.State, verb rune)   { fmtutil.FormatAddr(int64(a), 4, f, verb) }
func (a PhysicalSector) Format(f fmt.State, verb rune) { fmtutil.FormatAddr(int64(a), 4, f, verb) }
func (a PhysicalAddr) Format(f fmt.State, verb rune)   { fmtutil.FormatAddr(int64(a), 8, f, verb) }

func (p PartitionNum) String() string {
	if p == RawPartition {
		return "raw"
	}
	return fmt.Sprintf("%d", uint16(p))
}

func (s PhysicalSector) Addr(sectorSize int) PhysicalAddr {
	return PhysicalAddr(s) * PhysicalAddr(sectorSize)
}

// Sector returns the sector containing the address.
func (a PhysicalAddr) Sector(sectorSize int) PhysicalSector {
	return PhysicalSector(a / PhysicalAddr(sectorSize))
}

// Add returns the sector n sectors after s.
func (s PhysicalSector) Add(n int64) PhysicalSector {
	return s + PhysicalSector(n)
}
