// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"errors"
	"fmt"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

var (
	ErrClosed  = errors.New("strategy is closed")
	ErrNoSpace = errors.New("no space left in partition")
)

// IOError is a device error attributed to a single sector.
type IOError struct {
	Op     string
	Sector udfprim.PhysicalSector
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s sector %v: %v", e.Op, e.Sector, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
