// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/udf-progs-ng/lib/diskio"
	"git.lukeshu.com/udf-progs-ng/lib/profile"
	"git.lukeshu.com/udf-progs-ng/lib/textui"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfstrat"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

// medium is everything a subcommand gets to work with.
type medium struct {
	Vol   *udfvol.Volume
	Strat *udfstrat.Strategy
	Alloc *udfstrat.SequentialAllocator
}

type subcommand struct {
	cobra.Command
	RunE func(*medium, *cobra.Command, []string) error
}

var inspectors, repairers, writers []subcommand

type stratFlags struct {
	cfgFile     string
	maxLines    int
	maxInFlight int
	waitTime    time.Duration
	paranoid    bool
}

func (sf stratFlags) config(ctx context.Context, vol *udfvol.Volume) (udfstrat.Config, error) {
	cfg := udfstrat.DefaultConfig(vol.SectorSize(), vol.PacketSize())
	if sf.cfgFile != "" {
		var err error
		cfg, err = readJSONFile[udfstrat.Config](ctx, sf.cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg.SectorSize = vol.SectorSize()
		cfg.PacketSize = vol.PacketSize()
	}
	if sf.maxLines > 0 {
		cfg.MaxLines = sf.maxLines
		if cfg.MaxFree > cfg.MaxLines {
			cfg.MaxFree = cfg.MaxLines
		}
	}
	if sf.maxInFlight > 0 {
		cfg.MaxInFlight = sf.maxInFlight
	}
	if sf.waitTime > 0 {
		cfg.WaitTime = sf.waitTime
	}
	cfg.Paranoid = cfg.Paranoid || sf.paranoid
	return cfg, nil
}

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	var imageFlag string
	var volumeFlag string
	var strat stratFlags

	argparser := &cobra.Command{
		Use:   "udf-rmw {[flags]|SUBCOMMAND}",
		Short: "Read and modify a UDF packet-written image through the RMW cache",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringVar(&imageFlag, "image", "", "open the file `image.udf` as the medium")
	if err := argparser.MarkPersistentFlagFilename("image"); err != nil {
		panic(err)
	}
	if err := argparser.MarkPersistentFlagRequired("image"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().StringVar(&volumeFlag, "config", "", "load the partition maps from the JSON file `volume.json`")
	if err := argparser.MarkPersistentFlagFilename("config"); err != nil {
		panic(err)
	}
	if err := argparser.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().StringVar(&strat.cfgFile, "strat-config", "", "load the cache tunables from the JSON file `strat.json`")
	if err := argparser.MarkPersistentFlagFilename("strat-config"); err != nil {
		panic(err)
	}
	argparser.PersistentFlags().IntVar(&strat.maxLines, "max-lines", 0, "override the most ecclines that may exist at once")
	argparser.PersistentFlags().IntVar(&strat.maxInFlight, "max-in-flight", 0, "override the most ecclines with device I/O outstanding at once")
	argparser.PersistentFlags().DurationVar(&strat.waitTime, "wait-time", 0, "override how long a dirty eccline waits before being written back")
	argparser.PersistentFlags().BoolVar(&strat.paranoid, "paranoid", false, "check the cache invariants after every scheduler iteration")
	stopProfiling := profile.AddProfileFlags(argparser.PersistentFlags(), "profile.")

	writable := false

	argparserInspect := &cobra.Command{
		Use:   "inspect {[flags]|SUBCOMMAND}",
		Short: "Inspect (but don't modify) a UDF medium",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
	argparser.AddCommand(argparserInspect)

	argparserRepair := &cobra.Command{
		Use:   "repair {[flags]|SUBCOMMAND}",
		Short: "Repair a UDF medium",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
	argparser.AddCommand(argparserRepair)

	for _, cmdgrp := range []struct {
		parent   *cobra.Command
		children []subcommand
		writable bool
	}{
		{argparserInspect, inspectors, false},
		{argparserRepair, repairers, true},
		{argparser, writers, true},
	} {
		for _, child := range cmdgrp.children {
			cmd := child.Command
			runE := child.RunE
			if cmdgrp.writable {
				cmd.PreRunE = func(_ *cobra.Command, _ []string) error {
					writable = true
					return nil
				}
			}
			cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
				defer func() {
					if _err := stopProfiling(); _err != nil && err == nil {
						err = _err
					}
				}()

				ctx := cmd.Context()
				logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
				ctx = dlog.WithLogger(ctx, logger)
				dlog.SetFallbackLogger(logger.WithField("udf-progs.THIS_IS_A_BUG", true))

				grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
					EnableSignalHandling: true,
				})
				grp.Go("main", func(ctx context.Context) (err error) {
					maybeSetErr := func(_err error) {
						if _err != nil && err == nil {
							err = _err
						}
					}
					m, err := openMedium(ctx, imageFlag, volumeFlag, strat, writable)
					if err != nil {
						return err
					}
					defer func() {
						maybeSetErr(m.Strat.Close())
					}()

					cmd.SetContext(ctx)
					return runE(m, cmd, args)
				})
				return grp.Wait()
			}
			cmdgrp.parent.AddCommand(&cmd)
		}
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}

func openMedium(ctx context.Context, imageFilename, volumeFilename string, sf stratFlags, writable bool) (*medium, error) {
	cfg, err := readVolumeConfig(ctx, volumeFilename)
	if err != nil {
		return nil, err
	}
	vol, err := udfvol.NewVolume(cfg)
	if err != nil {
		return nil, err
	}
	stratCfg, err := sf.config(ctx, vol)
	if err != nil {
		return nil, err
	}
	fh, err := diskio.OpenOSFile[udfprim.PhysicalAddr](imageFilename, writable)
	if err != nil {
		return nil, err
	}
	alloc := udfstrat.NewSequentialAllocator(vol)
	s, err := udfstrat.New(ctx, stratCfg, vol, udfstrat.NewFileDevice(fh, vol.SectorSize()), alloc)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	dlog.Debugf(ctx, "opened %q: %v partition maps, %v", fh.Name(), vol.NumPartitions(), textui.IEC(fh.Size(), "B"))
	return &medium{
		Vol:   vol,
		Strat: s,
		Alloc: alloc,
	}, nil
}
