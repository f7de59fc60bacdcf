// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/udf-progs-ng/lib/textui"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfstrat"
)

func init() {
	writers = append(writers, subcommand{
		Command: cobra.Command{
			Use:   "write OFFSET",
			Short: "Write stdin to the medium at byte OFFSET through the cache",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(m *medium, cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			off, err := strconv.ParseInt(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("offset: %w", err)
			}
			dat, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}

			req := &udfstrat.Request{
				Class: udfstrat.ClassAbsolute,
				Dir:   udfstrat.DirWrite,
				Off:   udfprim.PhysicalAddr(off),
				Buf:   dat,
			}
			m.Strat.Queue(ctx, req)
			if err := req.Wait(ctx); err != nil {
				return err
			}
			if err := m.Strat.Flush(ctx); err != nil {
				return err
			}
			dlog.Infof(ctx, "wrote %v at %v", textui.IEC(len(dat), "B"), udfprim.PhysicalAddr(off))
			return nil
		},
	})
}
