// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil implements helpers for writing fmt.Formatter
// implementations.
package fmtutil

import (
	"fmt"
	"strings"
)

func fmtStateString(st fmt.State, verb rune, width int, haveWidth bool) string {
	var ret strings.Builder
	ret.WriteByte('%')
	for _, flag := range []int{'-', '+', '#', ' ', '0'} {
		if st.Flag(flag) {
			ret.WriteByte(byte(flag))
		}
	}
	if haveWidth {
		fmt.Fprintf(&ret, "%v", width)
	}
	if prec, ok := st.Precision(); ok {
		if prec == 0 {
			ret.WriteByte('.')
		} else {
			fmt.Fprintf(&ret, ".%v", prec)
		}
	}
	ret.WriteRune(verb)
	return ret.String()
}

// FmtStateString returns the fmt.Printf string that produced a given
// fmt.State and verb.
func FmtStateString(st fmt.State, verb rune) string {
	width, ok := st.Width()
	return fmtStateString(st, verb, width, ok)
}

// FmtStateStringWidth is like FmtStateString, but overrides the
// width.
func FmtStateStringWidth(st fmt.State, verb rune, width int) string {
	return fmtStateString(st, verb, width, true)
}

// FormatAddr implements fmt.Formatter for disk address types: the
// 'v', 's', and 'q' verbs render the address as fixed-width hex,
// while every other verb formats the plain integer.
//
// The width of the hex rendering is the number of hex digits needed
// for a value of the given byte-size.
func FormatAddr(addr int64, size int, f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#0*x", 2*size, addr)
		fmt.Fprintf(f, FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, FmtStateString(f, verb), addr)
	}
}
