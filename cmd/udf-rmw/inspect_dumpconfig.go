// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "dump-config",
			Short: "Spew the volume and cache configuration as parsed",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(m *medium, _ *cobra.Command, _ []string) error {
			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true

			_, _ = os.Stdout.WriteString("volume = ")
			spew.Fdump(os.Stdout, m.Vol.Config())
			_, _ = os.Stdout.WriteString("\nstrategy = ")
			spew.Fdump(os.Stdout, m.Strat.Config())
			return nil
		},
	})
}
