// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/udf-progs-ng/lib/containers"
)

func TestLRUGetOrElse(t *testing.T) {
	t.Parallel()
	cache := containers.NewLRUCache[int, string](4)

	calls := 0
	fn := func() (string, error) {
		calls++
		return "val", nil
	}
	val, err := cache.GetOrElse(1, fn)
	assert.NoError(t, err)
	assert.Equal(t, "val", val)
	val, err = cache.GetOrElse(1, fn)
	assert.NoError(t, err)
	assert.Equal(t, "val", val)
	assert.Equal(t, 1, calls)

	errBoom := errors.New("boom")
	_, err = cache.GetOrElse(2, func() (string, error) { return "", errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, cache.Contains(2))

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestLRUBounded(t *testing.T) {
	t.Parallel()
	cache := containers.NewLRUCache[int, int](4)
	for i := 0; i < 10; i++ {
		cache.Add(i, i*i)
	}
	assert.Equal(t, 4, cache.Len())
	val, ok := cache.Peek(9)
	assert.True(t, ok)
	assert.Equal(t, 81, val)
	_, ok = cache.Get(0)
	assert.False(t, ok)
}
