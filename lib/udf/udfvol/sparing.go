// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// RegisterBadPacket relocates the packet containing lb in a sparable
// partition to the first available spare, returning the sparing
// entry now in effect for it.  Registering an already-relocated
// packet returns the existing entry.
func (vol *Volume) RegisterBadPacket(ctx context.Context, part udfprim.PartitionNum, lb udfprim.LogicalBlock) (udfprim.SpareMapEntry, error) {
	ctx = dlog.WithField(ctx, "udf.vol.partition", part)
	ctx = dlog.WithField(ctx, "udf.vol.block", lb)

	pm, ok := vol.partMap(part)
	if !ok {
		return udfprim.SpareMapEntry{}, translateErr(part, lb, ErrBadPartition)
	}
	if pm.typ != MappingSparable {
		return udfprim.SpareMapEntry{}, translateErr(part, lb,
			fmt.Errorf("%w: partition is %v, not sparable", ErrBadAddressing, pm.typ))
	}
	if uint32(lb) >= pm.phys.Length {
		return udfprim.SpareMapEntry{}, translateErr(part, lb, ErrOutOfRange)
	}
	packet := uint32(lb) - uint32(lb)%pm.packetLen

	vol.mu.Lock()
	defer vol.mu.Unlock()

	for _, ent := range pm.sparing {
		if ent.Org == packet {
			return ent, nil
		}
	}
	for i := range pm.sparing {
		if pm.sparing[i].Available() {
			pm.sparing[i].Org = packet
			vol.metaCache.Purge()
			dlog.Infof(ctx, "relocated packet %v to sector %v", packet, udfprim.PhysicalSector(pm.sparing[i].Map))
			return pm.sparing[i], nil
		}
	}
	return udfprim.SpareMapEntry{}, translateErr(part, lb, ErrSparingFull)
}

// SparingTable returns a copy of a sparable partition's sparing
// table.
func (vol *Volume) SparingTable(part udfprim.PartitionNum) ([]udfprim.SpareMapEntry, error) {
	pm, ok := vol.partMap(part)
	if !ok || pm.typ != MappingSparable {
		return nil, translateErr(part, 0, ErrBadPartition)
	}
	vol.mu.RLock()
	defer vol.mu.RUnlock()
	return append([]udfprim.SpareMapEntry(nil), pm.sparing...), nil
}

// SetMetadataExtents replaces the allocation descriptors of a
// metadata partition's metadata file, as happens when the metadata
// file grows.
func (vol *Volume) SetMetadataExtents(part udfprim.PartitionNum, ads []udfprim.LongAD) error {
	pm, ok := vol.partMap(part)
	if !ok || pm.typ != MappingMetadata {
		return translateErr(part, 0, ErrBadPartition)
	}
	for _, ad := range ads {
		if upm, ok := vol.partMap(ad.Loc.Partition); ok && upm.typ == MappingMetadata {
			return translateErr(part, 0, ErrBadAddressing)
		}
	}

	vol.mu.Lock()
	defer vol.mu.Unlock()
	pm.metaExtents = append([]udfprim.LongAD(nil), ads...)
	vol.metaCache.Purge()
	return nil
}
