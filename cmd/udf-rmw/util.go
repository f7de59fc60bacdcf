// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/streamio"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

// withJSONFile opens filename and hands it to fn as a stream of
// runes, with progress logged as it is consumed.
func withJSONFile(ctx context.Context, filename string, fn func(io.RuneScanner) error) error {
	buf, err := streamio.Open(dlog.WithField(ctx, "udf.read-json-file", filename), filename)
	if err != nil {
		return err
	}
	defer func() {
		_ = buf.Close()
	}()
	if err := fn(buf); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

func readJSONFile[T any](ctx context.Context, filename string) (T, error) {
	var ret T
	err := withJSONFile(ctx, filename, func(r io.RuneScanner) error {
		return lowmemjson.DecodeThenEOF(r, &ret)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return ret, nil
}

func readVolumeConfig(ctx context.Context, filename string) (udfvol.Config, error) {
	var ret udfvol.Config
	err := withJSONFile(ctx, filename, func(r io.RuneScanner) error {
		var err error
		ret, err = udfvol.ReadConfig(r)
		return err
	})
	return ret, err
}

func writeJSONFile(w io.Writer, obj any, cfg lowmemjson.ReEncoder) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	cfg.Out = buffer
	return lowmemjson.Encode(&cfg, obj)
}

func parsePartition(arg string) (udfprim.PartitionNum, error) {
	if arg == "raw" {
		return udfprim.RawPartition, nil
	}
	n, err := strconv.ParseUint(arg, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("partition: %w", err)
	}
	return udfprim.PartitionNum(n), nil
}

func parseBlock(arg string) (udfprim.LogicalBlock, error) {
	n, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("logical block: %w", err)
	}
	return udfprim.LogicalBlock(n), nil
}
