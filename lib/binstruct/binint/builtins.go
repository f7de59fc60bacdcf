// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binint provides the little-endian fixed-width integer
// types that ECMA-167 on-disk structures are built from.
package binint

import (
	"git.lukeshu.com/udf-progs-ng/lib/binstruct/binutil"
)

// ECMA-167 1/7.1 specifies little-endian for every numeric field
// that UDF uses; the "both-endian" fields of 1/7.2.3 are not used.

func putLE(n int, v uint64) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

func getLE(dat []byte, n int) (uint64, error) {
	if err := binutil.NeedNBytes(dat, n); err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(dat[i])
	}
	return v, nil
}

// Uint8, Uint16, Uint32 and Uint64 in ECMA-167 terms.

type (
	U8    uint8
	U16le uint16
	U32le uint32
	U64le uint64
)

func (U8) BinaryStaticSize() int    { return 1 }
func (U16le) BinaryStaticSize() int { return 2 }
func (U32le) BinaryStaticSize() int { return 4 }
func (U64le) BinaryStaticSize() int { return 8 }

func (x U8) MarshalBinary() ([]byte, error)    { return putLE(1, uint64(x)), nil }
func (x U16le) MarshalBinary() ([]byte, error) { return putLE(2, uint64(x)), nil }
func (x U32le) MarshalBinary() ([]byte, error) { return putLE(4, uint64(x)), nil }
func (x U64le) MarshalBinary() ([]byte, error) { return putLE(8, uint64(x)), nil }

func (x *U8) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 1)
	if err != nil {
		return 0, err
	}
	*x = U8(v)
	return 1, nil
}

func (x *U16le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 2)
	if err != nil {
		return 0, err
	}
	*x = U16le(v)
	return 2, nil
}

func (x *U32le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 4)
	if err != nil {
		return 0, err
	}
	*x = U32le(v)
	return 4, nil
}

func (x *U64le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 8)
	if err != nil {
		return 0, err
	}
	*x = U64le(v)
	return 8, nil
}

// Int8, Int16, Int32 and Int64; two's complement.

type (
	I8    int8
	I16le int16
	I32le int32
	I64le int64
)

func (I8) BinaryStaticSize() int    { return 1 }
func (I16le) BinaryStaticSize() int { return 2 }
func (I32le) BinaryStaticSize() int { return 4 }
func (I64le) BinaryStaticSize() int { return 8 }

func (x I8) MarshalBinary() ([]byte, error)    { return putLE(1, uint64(x)), nil }
func (x I16le) MarshalBinary() ([]byte, error) { return putLE(2, uint64(x)), nil }
func (x I32le) MarshalBinary() ([]byte, error) { return putLE(4, uint64(x)), nil }
func (x I64le) MarshalBinary() ([]byte, error) { return putLE(8, uint64(x)), nil }

func (x *I8) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 1)
	if err != nil {
		return 0, err
	}
	*x = I8(v)
	return 1, nil
}

func (x *I16le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 2)
	if err != nil {
		return 0, err
	}
	*x = I16le(v)
	return 2, nil
}

func (x *I32le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 4)
	if err != nil {
		return 0, err
	}
	*x = I32le(v)
	return 4, nil
}

func (x *I64le) UnmarshalBinary(dat []byte) (int, error) {
	v, err := getLE(dat, 8)
	if err != nil {
		return 0, err
	}
	*x = I64le(v)
	return 8, nil
}
