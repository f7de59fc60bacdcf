// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol_test

import (
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/udf-progs-ng/lib/binstruct"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

const testConfigJSON = `{
	"SectorSize": 2048,
	"PacketSize": 32,
	"Partitions": [
		{"Number": 0, "Start": 256, "Length": 10000}
	],
	"Maps": [
		{"Type": "physical", "Partition": 0},
		{"Type": "virtual", "Partition": 0, "VAT": [5, 100, 7]},
		{"Type": "sparable", "Partition": 0, "PacketLen": 32, "Sparing": [
			{"Org": 64, "Map": 9000},
			{"Org": 4294967295, "Map": 9032},
			{"Org": 4294967295, "Map": 9064}
		]},
		{"Type": "metadata", "Partition": 2, "MetaExtents": [
			{"Type": "allocated", "Bytes": 8192, "Block": 1000},
			{"Type": "free", "Bytes": 4096, "Block": 0},
			{"Type": "allocated", "Bytes": 6244, "Block": 2000}
		]},
		{"Type": "metadata", "Partition": 0, "MetaAllocType": 1, "MetaExtents": [
			{"Type": "allocated", "Bytes": 2048, "Block": 10, "Partition": 0},
			{"Type": "redirect", "Bytes": 2048, "Block": 20, "Partition": 0}
		]},
		{"Type": "raw"}
	]
}`

const (
	partPhys udfprim.PartitionNum = iota
	partVirt
	partSpar
	partMeta
	partMetaRedirect
	partRaw
)

func testVolume(t *testing.T) *udfvol.Volume {
	t.Helper()
	cfg, err := udfvol.ReadConfig(strings.NewReader(testConfigJSON))
	require.NoError(t, err)
	vol, err := udfvol.NewVolume(cfg)
	require.NoError(t, err)
	return vol
}

func TestTranslate(t *testing.T) {
	t.Parallel()
	vol := testVolume(t)
	type TestCase struct {
		Part   udfprim.PartitionNum
		Block  udfprim.LogicalBlock
		Expect udfvol.Extent
		ErrIs  error
	}
	testcases := map[string]TestCase{
		"phys-first":         {partPhys, 0, udfvol.Extent{Sector: 256, Len: 10000}, nil},
		"phys-last":          {partPhys, 9999, udfvol.Extent{Sector: 10255, Len: 1}, nil},
		"phys-oob":           {partPhys, 10000, udfvol.Extent{}, udfvol.ErrOutOfRange},
		"virt":               {partVirt, 1, udfvol.Extent{Sector: 356, Len: 1}, nil},
		"virt-oob":           {partVirt, 3, udfvol.Extent{}, udfvol.ErrOutOfRange},
		"spar-plain":         {partSpar, 5, udfvol.Extent{Sector: 261, Len: 27}, nil},
		"spar-remapped":      {partSpar, 70, udfvol.Extent{Sector: 9006, Len: 26}, nil},
		"spar-oob":           {partSpar, 10000, udfvol.Extent{}, udfvol.ErrOutOfRange},
		"meta-first":         {partMeta, 0, udfvol.Extent{Sector: 1256, Len: 4}, nil},
		"meta-mid":           {partMeta, 2, udfvol.Extent{Sector: 1258, Len: 2}, nil},
		"meta-hole":          {partMeta, 4, udfvol.Extent{Len: 2, Hole: true}, nil},
		"meta-second":        {partMeta, 6, udfvol.Extent{Sector: 2256, Len: 4}, nil},
		"meta-partial-tail":  {partMeta, 9, udfvol.Extent{Sector: 2259, Len: 1}, nil},
		"meta-past-end":      {partMeta, 10, udfvol.Extent{}, udfvol.ErrNotFound},
		"meta-long-ad":       {partMetaRedirect, 0, udfvol.Extent{Sector: 266, Len: 1}, nil},
		"meta-redirect":      {partMetaRedirect, 1, udfvol.Extent{}, udfvol.ErrRedirect},
		"raw-map":            {partRaw, 77, udfvol.Extent{Sector: 77, Len: udfvol.RawExtentLen}, nil},
		"raw-partition":      {udfprim.RawPartition, 77, udfvol.Extent{Sector: 77, Len: udfvol.RawExtentLen}, nil},
		"no-such-partition":  {9, 0, udfvol.Extent{}, udfvol.ErrBadPartition},
		"meta-redirect-deep": {partMetaRedirect, 5, udfvol.Extent{}, udfvol.ErrRedirect},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ext, err := vol.Translate(tc.Part, tc.Block)
			if tc.ErrIs != nil {
				assert.ErrorIs(t, err, tc.ErrIs)
				var terr *udfvol.TranslateError
				assert.ErrorAs(t, err, &terr)
				assert.Equal(t, udfvol.Extent{}, ext)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.Expect, ext)
		})
	}
}

func TestTranslateIdempotent(t *testing.T) {
	t.Parallel()
	vol := testVolume(t)
	for _, part := range []udfprim.PartitionNum{partPhys, partVirt, partSpar, partMeta} {
		for lb := udfprim.LogicalBlock(0); lb < 12; lb++ {
			ext1, err1 := vol.Translate(part, lb)
			ext2, err2 := vol.Translate(part, lb)
			assert.Equal(t, ext1, ext2, "partition=%v block=%v", part, lb)
			assert.Equal(t, err1, err2, "partition=%v block=%v", part, lb)
		}
	}
}

func TestTranslateVAT(t *testing.T) {
	t.Parallel()
	vol := testVolume(t)
	vat := vol.Config().Maps[partVirt].VAT
	for i, ent := range vat {
		phys, err := vol.Translate(partPhys, udfprim.LogicalBlock(ent))
		require.NoError(t, err)
		virt, err := vol.Translate(partVirt, udfprim.LogicalBlock(i))
		require.NoError(t, err)
		assert.Equal(t, phys.Sector, virt.Sector)
		assert.Equal(t, int64(1), virt.Len)
	}
	_, err := vol.Translate(partVirt, udfprim.LogicalBlock(len(vat)))
	assert.ErrorIs(t, err, udfvol.ErrOutOfRange)
}

func TestRegisterBadPacket(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	vol := testVolume(t)

	// Warm the metadata cache through the soon-to-be-remapped
	// packet (metadata block 0 is sparable block 1000, packet 992).
	before, err := vol.Translate(partMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, udfprim.PhysicalSector(1256), before.Sector)

	ent, err := vol.RegisterBadPacket(ctx, partSpar, 1000)
	require.NoError(t, err)
	assert.Equal(t, udfprim.SpareMapEntry{Org: 992, Map: 9032}, ent)

	again, err := vol.RegisterBadPacket(ctx, partSpar, 1023)
	require.NoError(t, err)
	assert.Equal(t, ent, again)

	for lb := udfprim.LogicalBlock(992); lb < 1024; lb++ {
		ext, err := vol.Translate(partSpar, lb)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ext.Sector, udfprim.PhysicalSector(9032))
		assert.Less(t, ext.Sector, udfprim.PhysicalSector(9064))
		assert.Equal(t, udfprim.PhysicalSector(9032).Add(int64(lb-992)), ext.Sector)
	}

	after, err := vol.Translate(partMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, udfvol.Extent{Sector: 9040, Len: 4}, after)

	_, err = vol.RegisterBadPacket(ctx, partSpar, 0)
	require.NoError(t, err)
	_, err = vol.RegisterBadPacket(ctx, partSpar, 32)
	assert.ErrorIs(t, err, udfvol.ErrSparingFull)

	_, err = vol.RegisterBadPacket(ctx, partPhys, 0)
	assert.ErrorIs(t, err, udfvol.ErrBadAddressing)

	table, err := vol.SparingTable(partSpar)
	require.NoError(t, err)
	bs, err := udfprim.MarshalSparingMap(table)
	require.NoError(t, err)
	assert.Equal(t, 3*binstruct.StaticSize(udfprim.SpareMapEntry{}), len(bs))
}

func TestSetMetadataExtents(t *testing.T) {
	t.Parallel()
	vol := testVolume(t)

	ext, err := vol.Translate(partMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, udfprim.PhysicalSector(1256), ext.Sector)

	require.NoError(t, vol.SetMetadataExtents(partMeta, []udfprim.LongAD{
		{
			Len: udfprim.MakeExtentLen(udfprim.ExtentAllocated, 2048),
			Loc: udfprim.LBAddr{Block: 500, Partition: partPhys},
		},
	}))
	ext, err = vol.Translate(partMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, udfvol.Extent{Sector: 756, Len: 1}, ext)

	err = vol.SetMetadataExtents(partMeta, []udfprim.LongAD{
		{
			Len: udfprim.MakeExtentLen(udfprim.ExtentAllocated, 2048),
			Loc: udfprim.LBAddr{Block: 0, Partition: partMeta},
		},
	})
	assert.ErrorIs(t, err, udfvol.ErrBadAddressing)
}

func TestNewVolumeValidation(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Cfg udfvol.Config
	}
	parts := []udfvol.PhysicalPartition{{Number: 0, Start: 0, Length: 100}}
	testcases := map[string]TestCase{
		"sector-size": {udfvol.Config{SectorSize: 1000, PacketSize: 32}},
		"packet-size": {udfvol.Config{SectorSize: 2048}},
		"dup-partition": {udfvol.Config{SectorSize: 2048, PacketSize: 32,
			Partitions: append(parts, parts...)}},
		"virtual-without-physical": {udfvol.Config{SectorSize: 2048, PacketSize: 32,
			Maps: []udfvol.MapConfig{{Type: udfvol.MappingVirtual, Partition: 3}}}},
		"sparable-without-packet": {udfvol.Config{SectorSize: 2048, PacketSize: 32, Partitions: parts,
			Maps: []udfvol.MapConfig{{Type: udfvol.MappingSparable}}}},
		"meta-on-meta": {udfvol.Config{SectorSize: 2048, PacketSize: 32, Partitions: parts,
			Maps: []udfvol.MapConfig{{Type: udfvol.MappingMetadata, Partition: 0}}}},
		"bad-type": {udfvol.Config{SectorSize: 2048, PacketSize: 32, Partitions: parts,
			Maps: []udfvol.MapConfig{{Type: "floppy"}}}},
		"bad-extent-type": {udfvol.Config{SectorSize: 2048, PacketSize: 32, Partitions: parts,
			Maps: []udfvol.MapConfig{
				{Type: udfvol.MappingPhysical},
				{Type: udfvol.MappingMetadata, MetaExtents: []udfvol.ExtentConfig{{Type: "bogus"}}},
			}}},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			_, err := udfvol.NewVolume(tc.Cfg)
			assert.Error(t, err)
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()
	cfg, err := udfvol.ReadConfig(strings.NewReader(testConfigJSON))
	require.NoError(t, err)
	vol, err := udfvol.NewVolume(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, vol.Config())

	length, err := vol.PartitionLength(partMeta)
	require.NoError(t, err)
	assert.Equal(t, udfprim.LogicalBlock(9), length)
	length, err = vol.PartitionLength(partVirt)
	require.NoError(t, err)
	assert.Equal(t, udfprim.LogicalBlock(3), length)
}
