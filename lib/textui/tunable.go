// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

// Tunable marks a value as a default that might want adjusting for a
// particular drive or workload.  Defaults marked this way can be
// overridden through the udfstrat.Config that they end up in.
func Tunable[T any](x T) T {
	return x
}
