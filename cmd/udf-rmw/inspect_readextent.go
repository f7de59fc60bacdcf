// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"
)

func init() {
	var rawFlag bool
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "read-extent PARTITION BLOCK COUNT",
			Short: "Read COUNT logical blocks through the cache",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(3)),
		},
		RunE: func(m *medium, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			part, err := parsePartition(args[0])
			if err != nil {
				return err
			}
			lb, err := parseBlock(args[1])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}

			dat, err := m.Strat.ReadExtent(ctx, part, lb, count)
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "read %v blocks at %v:%v", count, part, lb)

			if rawFlag {
				_, err = os.Stdout.Write(dat)
				return err
			}
			dumper := hex.Dumper(os.Stdout)
			defer func() {
				if _err := dumper.Close(); _err != nil && err == nil {
					err = _err
				}
			}()
			_, err = dumper.Write(dat)
			return err
		},
	}
	cmd.Command.Flags().BoolVar(&rawFlag, "raw", false, "write the raw bytes instead of a hex dump")
	inspectors = append(inspectors, cmd)
}
