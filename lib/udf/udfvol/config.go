// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol

import (
	"fmt"
	"io"

	"git.lukeshu.com/go/lowmemjson"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

type MappingType string

const (
	MappingRaw      MappingType = "raw"
	MappingPhysical MappingType = "physical"
	MappingVirtual  MappingType = "virtual"
	MappingSparable MappingType = "sparable"
	MappingMetadata MappingType = "metadata"
)

// Config is the volume layout as recorded in the volume descriptor
// sequence and the VAT/sparing/metadata files; reading those off the
// disc is somebody else's job.
type Config struct {
	SectorSize int
	PacketSize int // sectors per write packet

	Partitions []PhysicalPartition
	// Maps is indexed by logical partition number.
	Maps []MapConfig
}

type PhysicalPartition struct {
	Number uint16
	Start  udfprim.PhysicalSector
	Length uint32 // sectors
}

type MapConfig struct {
	Type MappingType
	// Partition is the physical partition number for every type
	// except "metadata", for which it is the logical partition
	// that the metadata file is recorded in.
	Partition uint16

	VAT []uint32 `json:",omitempty"` // virtual

	PacketLen uint32         `json:",omitempty"` // sparable
	Sparing   []SparingEntry `json:",omitempty"` // sparable

	MetaAllocType udfprim.AllocType `json:",omitempty"` // metadata
	MetaExtents   []ExtentConfig    `json:",omitempty"` // metadata
}

type SparingEntry struct {
	Org uint32
	Map uint32
}

type ExtentConfig struct {
	Type      string // "allocated", "freed", "free", or "redirect"
	Bytes     uint32
	Block     uint32
	Partition *uint16 `json:",omitempty"` // long_ad only
}

// ReadConfig decodes a JSON volume configuration.
func ReadConfig(r io.RuneScanner) (Config, error) {
	var cfg Config
	if err := lowmemjson.DecodeThenEOF(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("volume config: %w", err)
	}
	return cfg, nil
}

func parseExtentType(str string) (udfprim.ExtentType, error) {
	for _, typ := range []udfprim.ExtentType{
		udfprim.ExtentAllocated,
		udfprim.ExtentFreed,
		udfprim.ExtentFree,
		udfprim.ExtentRedirect,
	} {
		if typ.String() == str {
			return typ, nil
		}
	}
	return 0, fmt.Errorf("invalid extent type %q", str)
}

func (ec ExtentConfig) longAD(allocType udfprim.AllocType, part udfprim.PartitionNum) (udfprim.LongAD, error) {
	typ, err := parseExtentType(ec.Type)
	if err != nil {
		return udfprim.LongAD{}, err
	}
	if ec.Bytes > 0x3fff_ffff {
		return udfprim.LongAD{}, fmt.Errorf("extent length %v overflows 30 bits", ec.Bytes)
	}
	switch allocType {
	case udfprim.AllocShort:
		if ec.Partition != nil {
			return udfprim.LongAD{}, fmt.Errorf("short_ad extent may not name a partition")
		}
	case udfprim.AllocLong:
		if ec.Partition == nil {
			return udfprim.LongAD{}, fmt.Errorf("long_ad extent must name a partition")
		}
		part = udfprim.PartitionNum(*ec.Partition)
	default:
		return udfprim.LongAD{}, fmt.Errorf("%w: %v", ErrBadAddressing, allocType)
	}
	return udfprim.LongAD{
		Len: udfprim.MakeExtentLen(typ, ec.Bytes),
		Loc: udfprim.LBAddr{
			Block:     udfprim.LogicalBlock(ec.Block),
			Partition: part,
		},
	}, nil
}

func extentConfig(allocType udfprim.AllocType, ad udfprim.LongAD) ExtentConfig {
	ret := ExtentConfig{
		Type:  ad.Len.Type().String(),
		Bytes: ad.Len.Bytes(),
		Block: uint32(ad.Loc.Block),
	}
	if allocType == udfprim.AllocLong {
		part := uint16(ad.Loc.Partition)
		ret.Partition = &part
	}
	return ret
}
