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

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

func init() {
	var warmupFlag int
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "stats",
			Short: "Read the first few packets through the cache, and print the queue statistics as JSON",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(m *medium, cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			packetBytes := m.Vol.SectorSize() * m.Vol.PacketSize()
			buf := make([]byte, packetBytes)
			for i := 0; i < warmupFlag; i++ {
				off := udfprim.PhysicalAddr(i * packetBytes)
				if off+udfprim.PhysicalAddr(packetBytes) > m.Strat.Size() {
					break
				}
				if _, err := m.Strat.ReadAt(buf, off); err != nil {
					return err
				}
			}
			st := m.Strat.Stats()
			dlog.Debugf(ctx, "%v", st)
			return writeJSONFile(os.Stdout, st, lowmemjson.ReEncoder{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		},
	}
	cmd.Command.Flags().IntVar(&warmupFlag, "warmup", 4, "number of packets to read before reporting")
	inspectors = append(inspectors, cmd)
}
