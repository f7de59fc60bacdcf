// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"errors"
	"reflect"
)

type Unmarshaler interface {
	UnmarshalBinary([]byte) (int, error)
}

// Unmarshal decodes the on-disc layout at the start of dat into
// *dstPtr, returning the number of bytes consumed.
func Unmarshal(dat []byte, dstPtr any) (int, error) {
	if unmar, ok := dstPtr.(Unmarshaler); ok {
		n, err := unmar.UnmarshalBinary(dat)
		if err != nil {
			err = &UnmarshalError{
				Type:   reflect.TypeOf(dstPtr),
				Method: "UnmarshalBinary",
				Err:    err,
			}
		}
		return n, err
	}
	return UnmarshalWithoutInterface(dat, dstPtr)
}

// UnmarshalWithoutInterface is Unmarshal, but ignores any
// UnmarshalBinary method that dstPtr has.
func UnmarshalWithoutInterface(dat []byte, dstPtr any) (int, error) {
	ptr := reflect.ValueOf(dstPtr)
	if ptr.Kind() != reflect.Ptr {
		panic(&InvalidTypeError{
			Type: ptr.Type(),
			Err:  errors.New("not a pointer"),
		})
	}
	dst := ptr.Elem()

	switch dst.Kind() {
	case reflect.Uint8, reflect.Int8, reflect.Uint16, reflect.Int16, reflect.Uint32, reflect.Int32, reflect.Uint64, reflect.Int64:
		tmp := reflect.New(intKind2Type[dst.Kind()])
		n, err := Unmarshal(dat, tmp.Interface())
		dst.Set(tmp.Elem().Convert(dst.Type()))
		return n, err
	case reflect.Ptr:
		elemPtr := reflect.New(dst.Type().Elem())
		n, err := Unmarshal(dat, elemPtr.Interface())
		dst.Set(elemPtr.Convert(dst.Type()))
		return n, err
	case reflect.Array:
		var n int
		for i := 0; i < dst.Len(); i++ {
			_n, err := Unmarshal(dat[n:], dst.Index(i).Addr().Interface())
			n += _n
			if err != nil {
				return n, err
			}
		}
		return n, nil
	case reflect.Struct:
		return getStructHandler(dst.Type()).Unmarshal(dat, dst)
	default:
		panic(unsupportedKind(ptr.Type(), "Unmarshaler"))
	}
}
