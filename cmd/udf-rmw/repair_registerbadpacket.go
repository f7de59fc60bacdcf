// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"
)

func init() {
	repairers = append(repairers, subcommand{
		Command: cobra.Command{
			Use:   "register-bad-packet PARTITION BLOCK",
			Short: "Relocate the packet containing BLOCK to a spare, and print the new sparing table",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		},
		RunE: func(m *medium, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			part, err := parsePartition(args[0])
			if err != nil {
				return err
			}
			lb, err := parseBlock(args[1])
			if err != nil {
				return err
			}
			ent, err := m.Vol.RegisterBadPacket(ctx, part, lb)
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "packet %v is mapped to sector %v", ent.Org, ent.Map)

			table, err := m.Vol.SparingTable(part)
			if err != nil {
				return err
			}
			return writeJSONFile(os.Stdout, table, lowmemjson.ReEncoder{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		},
	})
}
