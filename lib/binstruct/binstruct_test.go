// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/udf-progs-ng/lib/binstruct"
	"git.lukeshu.com/udf-progs-ng/lib/binstruct/binutil"
)

type testLBAddr struct {
	LBNum   uint32        `bin:"off=0x0, siz=0x4, desc=Logical Block Number"`
	PartNum uint16        `bin:"off=0x4, siz=0x2, desc=Partition Reference Number"`
	End     binstruct.End `bin:"off=0x6"`
}

type testLongAD struct {
	Len  uint32        `bin:"off=0x0, siz=0x4"`
	Loc  testLBAddr    `bin:"off=0x4, siz=0x6"`
	Impl [6]byte       `bin:"off=0xa, siz=0x6"`
	End  binstruct.End `bin:"off=0x10"`
}

func TestSmoke(t *testing.T) {
	t.Parallel()
	input := testLongAD{
		Len: 0x4000_0800,
		Loc: testLBAddr{
			LBNum:   0x1234,
			PartNum: 2,
		},
	}
	copy(input.Impl[:], "impl!!")

	bs, err := binstruct.Marshal(input)
	require.NoError(t, err)
	assert.Equal(t, 0x10, len(bs))
	assert.Equal(t, []byte{0x00, 0x08, 0x00, 0x40}, bs[:4])
	assert.Equal(t, 0x10, binstruct.StaticSize(input))

	var output testLongAD
	n, err := binstruct.Unmarshal(bs, &output)
	assert.NoError(t, err)
	assert.Equal(t, 0x10, n)
	assert.Equal(t, input, output)
}

func TestSlice(t *testing.T) {
	t.Parallel()
	input := []testLBAddr{
		{LBNum: 1, PartNum: 0},
		{LBNum: 0xffffffff, PartNum: 0xffff},
		{LBNum: 3, PartNum: 1},
	}
	bs, err := binstruct.MarshalSlice(input)
	require.NoError(t, err)
	assert.Equal(t, 18, len(bs))

	output, err := binstruct.UnmarshalSlice[testLBAddr](bs)
	require.NoError(t, err)
	assert.Equal(t, input, output)

	_, err = binstruct.UnmarshalSlice[testLBAddr](bs[:17])
	assert.Error(t, err)
}

func TestShort(t *testing.T) {
	t.Parallel()
	var output testLongAD
	_, err := binstruct.Unmarshal(make([]byte, 12), &output)
	var short *binutil.ShortError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, 16, short.Need)
	assert.Equal(t, 12, short.Have)
}

type badLayout struct {
	A   uint32        `bin:"off=0x0, siz=0x4"`
	End binstruct.End `bin:"off=0x8"`
}

func TestInvalidLayout(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		_ = binstruct.StaticSize(badLayout{})
	})
	assert.Panics(t, func() {
		_ = binstruct.StaticSize("not fixed-size")
	})
}
