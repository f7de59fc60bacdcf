// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"git.lukeshu.com/go/typedsync"

	"git.lukeshu.com/udf-progs-ng/lib/binstruct/binutil"
)

// End marks the end of a struct; its `bin:"off=..."` tag must equal
// the sum of the sizes of the preceding fields.
type End struct{}

var endType = reflect.TypeOf(End{})

// tag is a parsed `bin:"..."` struct tag.  The tag is either "-"
// (skip the field) or a comma-separated list of key=value options:
//
//	off=  byte offset of the field (required, checked)
//	siz=  byte size of the field (required, checked)
//	desc= free-form; usually the field's name in ECMA-167
type tag struct {
	skip bool

	off int
	siz int
}

func parseStructTag(str string) (tag, error) {
	var ret tag
	intOpts := map[string]*int{
		"off": &ret.off,
		"siz": &ret.siz,
	}
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "-":
			return tag{skip: true}, nil
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return tag{}, fmt.Errorf("option is not a key=value pair: %q", part)
		}
		if key == "desc" {
			continue
		}
		dst, ok := intOpts[key]
		if !ok {
			return tag{}, fmt.Errorf("unrecognized option %q", key)
		}
		n, err := strconv.ParseInt(val, 0, 0)
		if err != nil {
			return tag{}, fmt.Errorf("option %q: %w", key, err)
		}
		*dst = int(n)
	}
	return ret, nil
}

type structHandler struct {
	name   string
	Size   int
	fields []structField
}

type structField struct {
	name string
	tag
}

func (sh structHandler) fieldErr(i int, name string, err error) error {
	return fmt.Errorf("struct %q field %v %q: %w", sh.name, i, name, err)
}

func (sh structHandler) Unmarshal(dat []byte, dst reflect.Value) (int, error) {
	if err := binutil.NeedNBytes(dat, sh.Size); err != nil {
		return 0, fmt.Errorf("struct %q: %w", sh.name, err)
	}
	var n int
	for i, field := range sh.fields {
		if field.skip {
			continue
		}
		_n, err := Unmarshal(dat[n:], dst.Field(i).Addr().Interface())
		if err != nil {
			if _n > 0 {
				n += _n
			}
			return n, sh.fieldErr(i, field.name, err)
		}
		if _n != field.siz {
			return n, sh.fieldErr(i, field.name,
				fmt.Errorf("consumed %v bytes but should have consumed %v bytes", _n, field.siz))
		}
		n += _n
	}
	return n, nil
}

func (sh structHandler) Marshal(val reflect.Value) ([]byte, error) {
	ret := make([]byte, 0, sh.Size)
	for i, field := range sh.fields {
		if field.skip {
			continue
		}
		bs, err := Marshal(val.Field(i).Interface())
		ret = append(ret, bs...)
		if err != nil {
			return ret, sh.fieldErr(i, field.name, err)
		}
	}
	return ret, nil
}

// addField appends field i, checking its tag against the running
// offset.  It returns the new offset.
func (sh *structHandler) addField(i int, info reflect.StructField, off int) (int, error) {
	if info.Anonymous && info.Type != endType {
		return off, fmt.Errorf("binstruct does not support embedded fields")
	}
	ft, err := parseStructTag(info.Tag.Get("bin"))
	if err != nil {
		return off, err
	}
	sh.fields = append(sh.fields, structField{
		name: info.Name,
		tag:  ft,
	})
	if ft.skip {
		return off, nil
	}
	if ft.off != off {
		return off, fmt.Errorf("tag says off=%#x but curOffset=%#x", ft.off, off)
	}
	size, err := staticSize(info.Type)
	if err != nil {
		return off, err
	}
	if ft.siz != size {
		return off, fmt.Errorf("tag says siz=%#x but StaticSize(typ)=%#x", ft.siz, size)
	}
	return off + size, nil
}

func genStructHandler(structInfo reflect.Type) (structHandler, error) {
	ret := structHandler{
		name: structInfo.String(),
	}
	var off int
	endOffset := -1
	for i := 0; i < structInfo.NumField(); i++ {
		info := structInfo.Field(i)
		if info.Type == endType {
			endOffset = off
		}
		var err error
		if off, err = ret.addField(i, info, off); err != nil {
			return ret, ret.fieldErr(i, info.Name, err)
		}
	}
	ret.Size = off
	if endOffset < 0 {
		endOffset = 0
	}
	if ret.Size != endOffset {
		return ret, fmt.Errorf("struct %q: .Size=%v but endOffset=%v",
			ret.name, ret.Size, endOffset)
	}
	return ret, nil
}

// structCache is consulted from many goroutines at once (every
// translation of a metadata partition decodes allocation
// descriptors), so it needs to be a concurrent map.
var structCache typedsync.Map[reflect.Type, structHandler]

func getStructHandler(typ reflect.Type) structHandler {
	if h, ok := structCache.Load(typ); ok {
		return h
	}

	h, err := genStructHandler(typ)
	if err != nil {
		panic(&InvalidTypeError{
			Type: typ,
			Err:  err,
		})
	}
	h, _ = structCache.LoadOrStore(typ, h)
	return h
}
