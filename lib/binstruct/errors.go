// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"fmt"
	"reflect"
)

// InvalidTypeError is panicked with when asked to handle a type that
// has no fixed on-disc layout.
type InvalidTypeError struct {
	Type reflect.Type
	Err  error
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("%v: %v", e.Type, e.Err)
}
func (e *InvalidTypeError) Unwrap() error { return e.Err }

func methodErrorString(typ reflect.Type, method string, err error) string {
	if method == "" {
		return fmt.Sprintf("%v: %v", typ, err)
	}
	return fmt.Sprintf("(%v).%v: %v", typ, method, err)
}

// UnmarshalError is an error from decoding Type; Method is set if
// the error came from the type's own UnmarshalBinary.
type UnmarshalError struct {
	Type   reflect.Type
	Method string
	Err    error
}

func (e *UnmarshalError) Error() string { return methodErrorString(e.Type, e.Method, e.Err) }
func (e *UnmarshalError) Unwrap() error { return e.Err }

// MarshalError is an error from encoding Type; Method is set if the
// error came from the type's own MarshalBinary.
type MarshalError struct {
	Type   reflect.Type
	Method string
	Err    error
}

func (e *MarshalError) Error() string { return methodErrorString(e.Type, e.Method, e.Err) }
func (e *MarshalError) Unwrap() error { return e.Err }

func unsupportedKind(typ reflect.Type, iface string) *InvalidTypeError {
	return &InvalidTypeError{
		Type: typ,
		Err: fmt.Errorf("does not implement binstruct.%s and kind=%v is not a supported statically-sized kind",
			iface, typ.Kind()),
	}
}
