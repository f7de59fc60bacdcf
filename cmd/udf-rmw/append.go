// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"io"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/udf-progs-ng/lib/textui"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfstrat"
)

func init() {
	var atFlag string
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "append PARTITION",
			Short: "Write stdin sequentially to newly allocated blocks in PARTITION",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(m *medium, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			part, err := parsePartition(args[0])
			if err != nil {
				return err
			}
			if atFlag != "" {
				lb, err := parseBlock(atFlag)
				if err != nil {
					return err
				}
				m.Alloc.SetNext(part, lb)
			}
			dat, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			req := &udfstrat.Request{
				Class:     udfstrat.ClassAllocated,
				Dir:       udfstrat.DirWrite,
				Buf:       dat,
				Partition: part,
			}
			m.Strat.Queue(ctx, req)
			if err := req.Wait(ctx); err != nil {
				return err
			}
			if err := m.Strat.Flush(ctx); err != nil {
				return err
			}
			dlog.Infof(ctx, "appended %v; next free block is %v", textui.IEC(len(dat), "B"), m.Alloc.Next(part))
			textui.Fprintf(os.Stdout, "%v:%v\n", part, req.Location)
			return nil
		},
	}
	cmd.Command.Flags().StringVar(&atFlag, "at", "", "allocate starting at logical `block` instead of at the start of the partition")
	writers = append(writers, cmd)
}
