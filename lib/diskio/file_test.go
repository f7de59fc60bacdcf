// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/udf-progs-ng/lib/diskio"
)

func TestMemFile(t *testing.T) {
	t.Parallel()
	f := diskio.NewMemFile[int64](t.Name(), 16)
	assert.Equal(t, int64(16), f.Size())

	n, err := f.WriteAt([]byte("hello"), 12)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	buf := make([]byte, 8)
	n, err = f.ReadAt(buf, 10)
	assert.Equal(t, 6, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("\x00\x00hell"), buf[:n])

	_, err = f.ReadAt(buf, 17)
	assert.Error(t, err)

	reads, writes := f.Counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 1, writes)
}

func TestFaultyFile(t *testing.T) {
	t.Parallel()
	f := diskio.NewFaultyFile[int64](diskio.NewMemFile[int64](t.Name(), 64), 8)
	f.MarkBad(20, false)
	f.MarkBad(40, true)

	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	assert.Equal(t, 16, n)
	var ferr *diskio.FaultError[int64]
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, int64(16), ferr.Addr)
	assert.Equal(t, "read", ferr.Op)

	// Write-only faults don't affect reads.
	n, err = f.ReadAt(buf, 32)
	assert.Equal(t, 32, n)
	assert.NoError(t, err)

	n, err = f.WriteAt(buf[:8], 44)
	assert.Equal(t, 0, n)
	assert.Error(t, err)

	f.MarkGood(20)
	n, err = f.ReadAt(buf[:16], 16)
	assert.Equal(t, 16, n)
	assert.NoError(t, err)
}

func TestOSFile(t *testing.T) {
	t.Parallel()
	filename := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(filename, make([]byte, 4096), 0o600))

	f, err := diskio.OpenOSFile[int64](filename, true)
	require.NoError(t, err)
	defer func() { assert.NoError(t, f.Close()) }()
	assert.Equal(t, int64(4096), f.Size())

	n, err := f.WriteAt([]byte("UDF"), 2048)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 2048)
	assert.NoError(t, err)
	assert.Equal(t, "UDF", string(buf))

	_, err = diskio.OpenOSFile[int64](filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
