// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfvol

import (
	"errors"
	"fmt"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

var (
	ErrBadPartition  = errors.New("no such partition")
	ErrOutOfRange    = errors.New("block out of range")
	ErrBadAddressing = errors.New("unsupported addressing mode")
	ErrRedirect      = errors.New("allocation extent chaining is not supported")
	ErrNotFound      = errors.New("block not described by any extent")
	ErrSparingFull   = errors.New("no available sparing table entries")
)

// TranslateError is returned for any failure to map a logical block
// to the medium.  These are terminal; retrying the same translation
// will fail the same way until the volume's tables change.
type TranslateError struct {
	Partition udfprim.PartitionNum
	Block     udfprim.LogicalBlock
	Err       error
}

func (e *TranslateError) Error() string {
	return fmt.Sprintf("translate partition=%v block=%v: %v", e.Partition, e.Block, e.Err)
}

func (e *TranslateError) Unwrap() error { return e.Err }

func translateErr(part udfprim.PartitionNum, lb udfprim.LogicalBlock, err error) error {
	return &TranslateError{
		Partition: part,
		Block:     lb,
		Err:       err,
	}
}
