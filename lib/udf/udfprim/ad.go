// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfprim

import (
	"fmt"

	"git.lukeshu.com/udf-progs-ng/lib/binstruct"
)

// ExtentType is stored in the top 2 bits of an extent length.
type ExtentType uint8

const (
	ExtentAllocated ExtentType = iota // recorded and allocated
	ExtentFreed                       // allocated but not recorded
	ExtentFree                        // neither recorded nor allocated
	ExtentRedirect                    // next extent of allocation descriptors
)

func (t ExtentType) String() string {
	names := map[ExtentType]string{
		ExtentAllocated: "allocated",
		ExtentFreed:     "freed",
		ExtentFree:      "free",
		ExtentRedirect:  "redirect",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("ExtentType(%d)", uint8(t))
}

// ExtentLen is the packed (type, byte-length) word at the start of
// every allocation descriptor.
type ExtentLen uint32

const extentLenMask = 0x3fff_ffff

func MakeExtentLen(typ ExtentType, bytes uint32) ExtentLen {
	if bytes > extentLenMask {
		panic(fmt.Errorf("udfprim.MakeExtentLen: length %v overflows 30 bits", bytes))
	}
	return ExtentLen(uint32(typ)<<30 | bytes)
}

func (l ExtentLen) Type() ExtentType { return ExtentType(l >> 30) }
func (l ExtentLen) Bytes() uint32    { return uint32(l) & extentLenMask }

func (l ExtentLen) String() string {
	return fmt.Sprintf("%v:%d", l.Type(), l.Bytes())
}

// AllocType is the allocation-descriptor flavor recorded in an ICB
// tag's flags.
type AllocType uint8

const (
	AllocShort  AllocType = 0
	AllocLong   AllocType = 1
	AllocExt    AllocType = 2
	AllocIntern AllocType = 3
)

func (t AllocType) String() string {
	switch t {
	case AllocShort:
		return "short_ad"
	case AllocLong:
		return "long_ad"
	case AllocExt:
		return "ext_ad"
	case AllocIntern:
		return "intern"
	default:
		return fmt.Sprintf("AllocType(%d)", uint8(t))
	}
}

// ShortAD is ECMA-167 4/14.14.1; the partition is implied by the
// context it is recorded in.
type ShortAD struct {
	Len           ExtentLen     `bin:"off=0x0, siz=0x4"`
	Pos           LogicalBlock  `bin:"off=0x4, siz=0x4"`
	binstruct.End `bin:"off=0x8"`
}

// LBAddr is ECMA-167 4/7.1.
type LBAddr struct {
	Block         LogicalBlock `bin:"off=0x0, siz=0x4, desc=Logical Block Number"`
	Partition     PartitionNum `bin:"off=0x4, siz=0x2, desc=Partition Reference Number"`
	binstruct.End `bin:"off=0x6"`
}

// LongAD is ECMA-167 4/14.14.2.
type LongAD struct {
	Len           ExtentLen `bin:"off=0x0, siz=0x4"`
	Loc           LBAddr    `bin:"off=0x4, siz=0x6"`
	Impl          [6]byte   `bin:"off=0xa, siz=0x6"`
	binstruct.End `bin:"off=0x10"`
}

// Long widens a short_ad to a long_ad in the given partition.
func (ad ShortAD) Long(part PartitionNum) LongAD {
	return LongAD{
		Len: ad.Len,
		Loc: LBAddr{
			Block:     ad.Pos,
			Partition: part,
		},
	}
}

// ParseAllocDescs decodes a packed run of short_ad or long_ad
// descriptors, widening short_ads into part.  The list ends at the
// first descriptor with a zero length, or at the end of dat.
func ParseAllocDescs(typ AllocType, part PartitionNum, dat []byte) ([]LongAD, error) {
	var ret []LongAD
	switch typ {
	case AllocShort:
		size := binstruct.StaticSize(ShortAD{})
		dat = dat[:len(dat)-len(dat)%size]
		ads, err := binstruct.UnmarshalSlice[ShortAD](dat)
		if err != nil {
			return nil, err
		}
		for _, ad := range ads {
			if ad.Len.Bytes() == 0 {
				break
			}
			ret = append(ret, ad.Long(part))
		}
	case AllocLong:
		size := binstruct.StaticSize(LongAD{})
		dat = dat[:len(dat)-len(dat)%size]
		ads, err := binstruct.UnmarshalSlice[LongAD](dat)
		if err != nil {
			return nil, err
		}
		for _, ad := range ads {
			if ad.Len.Bytes() == 0 {
				break
			}
			ret = append(ret, ad)
		}
	default:
		return nil, fmt.Errorf("udfprim.ParseAllocDescs: unsupported allocation type %v", typ)
	}
	return ret, nil
}

// Sparing table entry values for Org.
const (
	SpareAvailable uint32 = 0xffff_ffff
	SpareDefective uint32 = 0xffff_fff0
)

// SpareMapEntry is UDF 2.2.12's sparing table map entry: the packet
// at Org is relocated to Map.
type SpareMapEntry struct {
	Org           uint32 `bin:"off=0x0, siz=0x4"`
	Map           uint32 `bin:"off=0x4, siz=0x4"`
	binstruct.End `bin:"off=0x8"`
}

func (e SpareMapEntry) Available() bool { return e.Org == SpareAvailable }

// ParseSparingMap decodes a packed array of sparing map entries.
func ParseSparingMap(dat []byte) ([]SpareMapEntry, error) {
	return binstruct.UnmarshalSlice[SpareMapEntry](dat)
}

// MarshalSparingMap is the inverse of ParseSparingMap.
func MarshalSparingMap(entries []SpareMapEntry) ([]byte, error) {
	return binstruct.MarshalSlice(entries)
}
