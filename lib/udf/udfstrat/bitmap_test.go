// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSectorBits(t *testing.T) {
	t.Parallel()
	a := newSectorBits(70)
	assert.Len(t, a, 2)
	assert.False(t, a.Any())
	for i := 0; i < 70; i++ {
		a.Set(i)
	}
	assert.True(t, a.Full(70))
	a.Clear(65)
	assert.False(t, a.Full(70))
	assert.False(t, a.Get(65))
	assert.True(t, a.Get(64))
	assert.Equal(t, 69, a.Count())

	b := newSectorBits(70)
	b.Set(3)
	b.Set(65)
	assert.True(t, a.Intersects(b))
	a.AndNot(b)
	assert.False(t, a.Get(3))
	assert.False(t, a.Intersects(b))
	assert.Equal(t, 68, a.Count())

	a.Reset()
	assert.False(t, a.Any())
}
