// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"fmt"
)

// UnmarshalSlice decodes a packed array of statically-sized T from
// dat.  len(dat) must be a multiple of the static size of T; a
// trailing partial element is an error rather than being silently
// dropped.
func UnmarshalSlice[T any](dat []byte) ([]T, error) {
	var zero T
	size := StaticSize(zero)
	if len(dat)%size != 0 {
		return nil, fmt.Errorf("binstruct.UnmarshalSlice[%T]: length %v is not a multiple of %v",
			zero, len(dat), size)
	}
	ret := make([]T, len(dat)/size)
	for i := range ret {
		n, err := Unmarshal(dat[i*size:], &ret[i])
		if err != nil {
			return nil, fmt.Errorf("binstruct.UnmarshalSlice[%T]: element %v: %w", zero, i, err)
		}
		if n != size {
			return nil, fmt.Errorf("binstruct.UnmarshalSlice[%T]: element %v: consumed %v bytes but should have consumed %v bytes",
				zero, i, n, size)
		}
	}
	return ret, nil
}

// MarshalSlice is the inverse of UnmarshalSlice.
func MarshalSlice[T any](vals []T) ([]byte, error) {
	var ret []byte
	for i := range vals {
		bs, err := Marshal(vals[i])
		ret = append(ret, bs...)
		if err != nil {
			return ret, fmt.Errorf("binstruct.MarshalSlice[%T]: element %v: %w", vals[i], i, err)
		}
	}
	return ret, nil
}
