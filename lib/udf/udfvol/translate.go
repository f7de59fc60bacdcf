// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol

import (
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// Translate maps a logical block in a partition to a physical
// sector, along with how many sectors after it are contiguous.
//
// Any returned error is a *TranslateError.
func (vol *Volume) Translate(part udfprim.PartitionNum, lb udfprim.LogicalBlock) (Extent, error) {
	vol.mu.RLock()
	defer vol.mu.RUnlock()
	return vol.translate(part, lb)
}

func (vol *Volume) translate(part udfprim.PartitionNum, lb udfprim.LogicalBlock) (Extent, error) {
	if part == udfprim.RawPartition {
		return Extent{Sector: udfprim.PhysicalSector(lb), Len: RawExtentLen}, nil
	}
	pm, ok := vol.partMap(part)
	if !ok {
		return Extent{}, translateErr(part, lb, ErrBadPartition)
	}
	switch pm.typ {
	case MappingRaw:
		return Extent{Sector: udfprim.PhysicalSector(lb), Len: RawExtentLen}, nil
	case MappingPhysical:
		return translatePhysical(part, pm.phys, lb)
	case MappingVirtual:
		if int64(lb) >= int64(len(pm.vat)) {
			return Extent{}, translateErr(part, lb, ErrOutOfRange)
		}
		ext, err := translatePhysical(part, pm.phys, udfprim.LogicalBlock(pm.vat[lb]))
		if err != nil {
			return Extent{}, err
		}
		// VAT entries need not be contiguous.
		ext.Len = 1
		return ext, nil
	case MappingSparable:
		return translateSparable(part, pm, lb)
	case MappingMetadata:
		return vol.metaCache.GetOrElse(metaKey{Part: part, Block: lb}, func() (Extent, error) {
			return vol.translateMetadata(part, pm, lb)
		})
	default:
		return Extent{}, translateErr(part, lb, ErrBadAddressing)
	}
}

func translatePhysical(part udfprim.PartitionNum, phys PhysicalPartition, lb udfprim.LogicalBlock) (Extent, error) {
	if uint32(lb) >= phys.Length {
		return Extent{}, translateErr(part, lb, ErrOutOfRange)
	}
	return Extent{
		Sector: phys.Start.Add(int64(lb)),
		Len:    int64(phys.Length - uint32(lb)),
	}, nil
}

func translateSparable(part udfprim.PartitionNum, pm *partMap, lb udfprim.LogicalBlock) (Extent, error) {
	if uint32(lb) >= pm.phys.Length {
		return Extent{}, translateErr(part, lb, ErrOutOfRange)
	}
	packet := uint32(lb) - uint32(lb)%pm.packetLen
	offset := uint32(lb) % pm.packetLen
	for _, ent := range pm.sparing {
		if ent.Org == packet {
			return Extent{
				Sector: udfprim.PhysicalSector(ent.Map).Add(int64(offset)),
				Len:    int64(pm.packetLen - offset),
			}, nil
		}
	}
	ext, err := translatePhysical(part, pm.phys, lb)
	if err != nil {
		return Extent{}, err
	}
	if rest := int64(pm.packetLen - offset); ext.Len > rest {
		ext.Len = rest
	}
	return ext, nil
}

func (vol *Volume) translateMetadata(part udfprim.PartitionNum, pm *partMap, lb udfprim.LogicalBlock) (Extent, error) {
	sectorSize := uint64(vol.sectorSize)
	target := uint64(lb) * sectorSize
	var extBeg uint64
	for _, ad := range pm.metaExtents {
		extLen := uint64(ad.Len.Bytes())
		if ad.Len.Type() == udfprim.ExtentRedirect {
			// The extent list continues elsewhere, and we
			// don't follow it.
			return Extent{}, translateErr(part, lb, ErrRedirect)
		}
		extEnd := extBeg + extLen
		if target >= extEnd {
			extBeg = extEnd
			continue
		}
		rel := (target - extBeg) / sectorSize
		rest := int64((extEnd - target + sectorSize - 1) / sectorSize)
		switch ad.Len.Type() {
		case udfprim.ExtentFree, udfprim.ExtentFreed:
			return Extent{Len: rest, Hole: true}, nil
		default:
			underlying := ad.Loc.Partition
			if upm, ok := vol.partMap(underlying); ok && upm.typ == MappingMetadata {
				return Extent{}, translateErr(part, lb, ErrBadAddressing)
			}
			ext, err := vol.translate(underlying, ad.Loc.Block+udfprim.LogicalBlock(rel))
			if err != nil {
				return Extent{}, translateErr(part, lb, err)
			}
			if ext.Len > rest {
				ext.Len = rest
			}
			return ext, nil
		}
	}
	return Extent{}, translateErr(part, lb, ErrNotFound)
}
