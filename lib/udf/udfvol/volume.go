// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package udfvol implements UDF's logical-to-physical address
// translation: physical, virtual (VAT), sparable, and metadata
// partition maps.
package udfvol

import (
	"fmt"
	"math"
	"sync"

	"git.lukeshu.com/udf-progs-ng/lib/containers"
	"git.lukeshu.com/udf-progs-ng/lib/textui"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// Extent is the result of a translation: Len sectors starting at
// Sector are contiguous on the medium.  If Hole is set there is no
// backing storage and the contents read as zero.
type Extent struct {
	Sector udfprim.PhysicalSector
	Len    int64
	Hole   bool
}

// RawExtentLen is the extent length reported for RawPartition.
const RawExtentLen = math.MaxInt32

type partMap struct {
	typ  MappingType
	phys PhysicalPartition // not for metadata

	vat []uint32

	packetLen uint32
	sparing   []udfprim.SpareMapEntry

	metaPart    udfprim.PartitionNum
	metaAlloc   udfprim.AllocType
	metaExtents []udfprim.LongAD
}

type metaKey struct {
	Part  udfprim.PartitionNum
	Block udfprim.LogicalBlock
}

// Volume translates logical addresses for one mounted volume.  It is
// safe for concurrent use.
type Volume struct {
	sectorSize int
	packetSize int
	parts      []PhysicalPartition

	// mu protects the sparing tables and metadata extents, which
	// may change after mount.
	mu   sync.RWMutex
	maps []*partMap

	metaCache *containers.LRUCache[metaKey, Extent]
}

// MetaCacheSize is the number of metadata translations memoized.
var MetaCacheSize = textui.Tunable(1024)

// NewVolume validates a volume configuration and builds the
// partition maps for it.
func NewVolume(cfg Config) (*Volume, error) {
	if cfg.SectorSize <= 0 || cfg.SectorSize&(cfg.SectorSize-1) != 0 {
		return nil, fmt.Errorf("udfvol.NewVolume: invalid sector size %v", cfg.SectorSize)
	}
	if cfg.PacketSize <= 0 {
		return nil, fmt.Errorf("udfvol.NewVolume: invalid packet size %v", cfg.PacketSize)
	}
	physParts := make(map[uint16]PhysicalPartition, len(cfg.Partitions))
	for _, part := range cfg.Partitions {
		if _, dup := physParts[part.Number]; dup {
			return nil, fmt.Errorf("udfvol.NewVolume: duplicate physical partition %v", part.Number)
		}
		physParts[part.Number] = part
	}
	if len(cfg.Maps) >= int(udfprim.RawPartition) {
		return nil, fmt.Errorf("udfvol.NewVolume: too many partition maps: %v", len(cfg.Maps))
	}

	vol := &Volume{
		sectorSize: cfg.SectorSize,
		packetSize: cfg.PacketSize,
		parts:      append([]PhysicalPartition(nil), cfg.Partitions...),
		maps:       make([]*partMap, len(cfg.Maps)),
		metaCache:  containers.NewLRUCache[metaKey, Extent](MetaCacheSize),
	}
	for i, mc := range cfg.Maps {
		pm, err := newPartMap(cfg, physParts, mc)
		if err != nil {
			return nil, fmt.Errorf("udfvol.NewVolume: partition map %v: %w", i, err)
		}
		vol.maps[i] = pm
	}
	return vol, nil
}

func newPartMap(cfg Config, physParts map[uint16]PhysicalPartition, mc MapConfig) (*partMap, error) {
	pm := &partMap{
		typ: mc.Type,
	}
	if mc.Type != MappingMetadata && mc.Type != MappingRaw {
		phys, ok := physParts[mc.Partition]
		if !ok {
			return nil, fmt.Errorf("%w: physical partition %v", ErrBadPartition, mc.Partition)
		}
		pm.phys = phys
	}
	switch mc.Type {
	case MappingRaw, MappingPhysical:
	case MappingVirtual:
		pm.vat = append([]uint32(nil), mc.VAT...)
	case MappingSparable:
		if mc.PacketLen == 0 {
			return nil, fmt.Errorf("sparable map needs a packet length")
		}
		pm.packetLen = mc.PacketLen
		for _, ent := range mc.Sparing {
			pm.sparing = append(pm.sparing, udfprim.SpareMapEntry{
				Org: ent.Org,
				Map: ent.Map,
			})
		}
	case MappingMetadata:
		if int(mc.Partition) >= len(cfg.Maps) {
			return nil, fmt.Errorf("%w: metadata file partition %v", ErrBadPartition, mc.Partition)
		}
		if cfg.Maps[mc.Partition].Type == MappingMetadata {
			return nil, fmt.Errorf("%w: metadata file may not be recorded in a metadata partition", ErrBadAddressing)
		}
		pm.metaPart = udfprim.PartitionNum(mc.Partition)
		pm.metaAlloc = mc.MetaAllocType
		for i, ec := range mc.MetaExtents {
			ad, err := ec.longAD(mc.MetaAllocType, pm.metaPart)
			if err != nil {
				return nil, fmt.Errorf("metadata extent %v: %w", i, err)
			}
			if ad.Loc.Partition != udfprim.RawPartition && int(ad.Loc.Partition) < len(cfg.Maps) &&
				cfg.Maps[ad.Loc.Partition].Type == MappingMetadata {
				return nil, fmt.Errorf("metadata extent %v: %w: metadata file may not be recorded in a metadata partition",
					i, ErrBadAddressing)
			}
			pm.metaExtents = append(pm.metaExtents, ad)
		}
	default:
		return nil, fmt.Errorf("unknown mapping type %q", mc.Type)
	}
	return pm, nil
}

func (vol *Volume) SectorSize() int { return vol.sectorSize }
func (vol *Volume) PacketSize() int { return vol.packetSize }

// NumPartitions returns the number of logical partition maps.
func (vol *Volume) NumPartitions() int { return len(vol.maps) }

func (vol *Volume) partMap(part udfprim.PartitionNum) (*partMap, bool) {
	if int(part) >= len(vol.maps) {
		return nil, false
	}
	return vol.maps[part], true
}

// PartitionLength returns the number of logical blocks addressable
// in a partition.
func (vol *Volume) PartitionLength(part udfprim.PartitionNum) (udfprim.LogicalBlock, error) {
	if part == udfprim.RawPartition {
		return RawExtentLen, nil
	}
	pm, ok := vol.partMap(part)
	if !ok {
		return 0, translateErr(part, 0, ErrBadPartition)
	}
	vol.mu.RLock()
	defer vol.mu.RUnlock()
	switch pm.typ {
	case MappingRaw:
		return RawExtentLen, nil
	case MappingVirtual:
		return udfprim.LogicalBlock(len(pm.vat)), nil
	case MappingMetadata:
		var bytes uint64
		for _, ad := range pm.metaExtents {
			bytes += uint64(ad.Len.Bytes())
		}
		return udfprim.LogicalBlock(bytes / uint64(vol.sectorSize)), nil
	default:
		return udfprim.LogicalBlock(pm.phys.Length), nil
	}
}

// Config returns the volume's current configuration, including any
// changes to the sparing tables or metadata extents since it was
// created.
func (vol *Volume) Config() Config {
	vol.mu.RLock()
	defer vol.mu.RUnlock()
	ret := Config{
		SectorSize: vol.sectorSize,
		PacketSize: vol.packetSize,
		Partitions: append([]PhysicalPartition(nil), vol.parts...),
		Maps:       make([]MapConfig, len(vol.maps)),
	}
	for i, pm := range vol.maps {
		mc := MapConfig{
			Type:      pm.typ,
			Partition: pm.phys.Number,
		}
		switch pm.typ {
		case MappingVirtual:
			mc.VAT = append([]uint32(nil), pm.vat...)
		case MappingSparable:
			mc.PacketLen = pm.packetLen
			for _, ent := range pm.sparing {
				mc.Sparing = append(mc.Sparing, SparingEntry{Org: ent.Org, Map: ent.Map})
			}
		case MappingMetadata:
			mc.Partition = uint16(pm.metaPart)
			mc.MetaAllocType = pm.metaAlloc
			for _, ad := range pm.metaExtents {
				mc.MetaExtents = append(mc.MetaExtents, extentConfig(pm.metaAlloc, ad))
			}
		}
		ret.Maps[i] = mc
	}
	return ret
}
