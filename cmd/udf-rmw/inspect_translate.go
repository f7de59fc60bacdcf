// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/udf-progs-ng/lib/textui"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "translate PARTITION BLOCK",
			Short: "Translate a logical block to a physical sector",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		},
		RunE: func(m *medium, _ *cobra.Command, args []string) error {
			part, err := parsePartition(args[0])
			if err != nil {
				return err
			}
			lb, err := parseBlock(args[1])
			if err != nil {
				return err
			}
			ext, err := m.Vol.Translate(part, lb)
			if err != nil {
				return err
			}
			switch {
			case ext.Hole:
				textui.Fprintf(os.Stdout, "%v:%v => hole (%d sectors)\n", part, lb, ext.Len)
			case ext.Len == udfvol.RawExtentLen:
				textui.Fprintf(os.Stdout, "%v:%v => %v\n", part, lb, ext.Sector)
			default:
				textui.Fprintf(os.Stdout, "%v:%v => %v (%d contiguous sectors)\n", part, lb, ext.Sector, ext.Len)
			}
			return nil
		},
	})
}
