// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfprim_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/udf-progs-ng/lib/binstruct"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

func TestExtentLen(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Typ   udfprim.ExtentType
		Bytes uint32
		Raw   udfprim.ExtentLen
	}
	testcases := map[string]TestCase{
		"allocated": {udfprim.ExtentAllocated, 2048, 0x0000_0800},
		"freed":     {udfprim.ExtentFreed, 4096, 0x4000_1000},
		"free":      {udfprim.ExtentFree, 1, 0x8000_0001},
		"redirect":  {udfprim.ExtentRedirect, 0x3fff_ffff, 0xffff_ffff},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			l := udfprim.MakeExtentLen(tc.Typ, tc.Bytes)
			assert.Equal(t, tc.Raw, l)
			assert.Equal(t, tc.Typ, l.Type())
			assert.Equal(t, tc.Bytes, l.Bytes())
		})
	}
	assert.Panics(t, func() { udfprim.MakeExtentLen(udfprim.ExtentAllocated, 0x4000_0000) })
}

func TestParseAllocDescs(t *testing.T) {
	t.Parallel()
	shorts := []udfprim.ShortAD{
		{Len: udfprim.MakeExtentLen(udfprim.ExtentAllocated, 4096), Pos: 10},
		{Len: udfprim.MakeExtentLen(udfprim.ExtentFree, 2048), Pos: 0},
		{},
		{Len: udfprim.MakeExtentLen(udfprim.ExtentAllocated, 2048), Pos: 99},
	}
	dat, err := binstruct.MarshalSlice(shorts)
	require.NoError(t, err)
	dat = append(dat, 0xaa, 0xbb) // trailing garbage shorter than a descriptor

	ads, err := udfprim.ParseAllocDescs(udfprim.AllocShort, 3, dat)
	require.NoError(t, err)
	assert.Equal(t, []udfprim.LongAD{
		{Len: 0x0000_1000, Loc: udfprim.LBAddr{Block: 10, Partition: 3}},
		{Len: 0x8000_0800, Loc: udfprim.LBAddr{Block: 0, Partition: 3}},
	}, ads)

	longs := []udfprim.LongAD{
		{Len: udfprim.MakeExtentLen(udfprim.ExtentAllocated, 2048), Loc: udfprim.LBAddr{Block: 7, Partition: 1}},
	}
	dat, err = binstruct.MarshalSlice(longs)
	require.NoError(t, err)
	assert.Equal(t, 16, len(dat))
	ads, err = udfprim.ParseAllocDescs(udfprim.AllocLong, 0, dat)
	require.NoError(t, err)
	assert.Equal(t, longs, ads)

	_, err = udfprim.ParseAllocDescs(udfprim.AllocIntern, 0, dat)
	assert.Error(t, err)
}

func TestSparingMap(t *testing.T) {
	t.Parallel()
	dat := []byte{
		0x20, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff, 0x20, 0x10, 0x00, 0x00,
	}
	entries, err := udfprim.ParseSparingMap(dat)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, udfprim.SpareMapEntry{Org: 0x20, Map: 0x1000}, entries[0])
	assert.False(t, entries[0].Available())
	assert.True(t, entries[1].Available())

	out, err := udfprim.MarshalSparingMap(entries)
	require.NoError(t, err)
	assert.Equal(t, dat, out)
}

func TestAddrFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0x00000040", fmt.Sprintf("%v", udfprim.PhysicalSector(64)))
	assert.Equal(t, "64", fmt.Sprintf("%d", udfprim.PhysicalSector(64)))
	assert.Equal(t, "0x0000000000020000", fmt.Sprintf("%v", udfprim.PhysicalSector(64).Addr(2048)))
	assert.Equal(t, udfprim.PhysicalSector(64), udfprim.PhysicalAddr(0x20100).Sector(2048))
	assert.Equal(t, "raw", udfprim.RawPartition.String())
	assert.Equal(t, "2", udfprim.PartitionNum(2).String())
}
