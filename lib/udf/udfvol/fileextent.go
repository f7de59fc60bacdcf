// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol

import (
	"fmt"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// Special values in the result of TranslateFileExtent.
const (
	// MappingZero is a sector with no backing storage; it reads
	// as zero.
	MappingZero udfprim.PhysicalSector = -1
	// MappingIntern is a sector whose data is embedded in the
	// file's ICB.
	MappingIntern udfprim.PhysicalSector = -2
)

// FileNode is the part of a file entry needed to find the file's
// data: its allocation descriptors.
type FileNode struct {
	AllocType udfprim.AllocType
	// Partition is the partition that short_ads are relative to.
	Partition udfprim.PartitionNum
	// AllocDescs is the raw allocation descriptor area; for
	// AllocIntern it is the file data itself.
	AllocDescs []byte
}

// Extents parses the file's allocation descriptors.
func (f FileNode) Extents() ([]udfprim.LongAD, error) {
	return udfprim.ParseAllocDescs(f.AllocType, f.Partition, f.AllocDescs)
}

// TranslateFileExtent maps count sectors of a file, starting at
// sector from within the file, to physical sectors.  Entries are
// either a physical sector, MappingZero, or MappingIntern.
func (vol *Volume) TranslateFileExtent(file FileNode, from udfprim.LogicalBlock, count int) ([]udfprim.PhysicalSector, error) {
	ret := make([]udfprim.PhysicalSector, 0, count)
	if file.AllocType == udfprim.AllocIntern {
		for i := 0; i < count; i++ {
			ret = append(ret, MappingIntern)
		}
		return ret, nil
	}
	ads, err := file.Extents()
	if err != nil {
		return nil, translateErr(file.Partition, from, fmt.Errorf("%w: %v", ErrBadAddressing, err))
	}

	vol.mu.RLock()
	defer vol.mu.RUnlock()

	sectorSize := uint64(vol.sectorSize)
	cur := uint64(from) * sectorSize
	var extBeg uint64
	for _, ad := range ads {
		if len(ret) == count {
			break
		}
		if ad.Len.Type() == udfprim.ExtentRedirect {
			return nil, translateErr(file.Partition, from, ErrRedirect)
		}
		extEnd := extBeg + uint64(ad.Len.Bytes())
		for len(ret) < count && cur < extEnd {
			rel := udfprim.LogicalBlock((cur - extBeg) / sectorSize)
			rest := int((extEnd - cur + sectorSize - 1) / sectorSize)
			if rest > count-len(ret) {
				rest = count - len(ret)
			}
			switch ad.Len.Type() {
			case udfprim.ExtentFree, udfprim.ExtentFreed:
				for i := 0; i < rest; i++ {
					ret = append(ret, MappingZero)
				}
			default:
				ext, err := vol.translate(ad.Loc.Partition, ad.Loc.Block+rel)
				if err != nil {
					return nil, err
				}
				if ext.Len < int64(rest) {
					rest = int(ext.Len)
				}
				for i := 0; i < rest; i++ {
					if ext.Hole {
						ret = append(ret, MappingZero)
					} else {
						ret = append(ret, ext.Sector.Add(int64(i)))
					}
				}
			}
			cur += uint64(rest) * sectorSize
		}
		extBeg = extEnd
	}
	if len(ret) < count {
		return nil, translateErr(file.Partition, from+udfprim.LogicalBlock(len(ret)), ErrNotFound)
	}
	return ret, nil
}
