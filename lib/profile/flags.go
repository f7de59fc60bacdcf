// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package profile

import (
	"fmt"
	"io"
	"os"

	"github.com/datawire/dlib/derror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flagSet struct {
	shutdown []StopFunc
}

// Stop runs the shutdown functions in reverse order of the flags
// having been set.
func (fs *flagSet) Stop() error {
	var errs derror.MultiError
	for i := len(fs.shutdown) - 1; i >= 0; i-- {
		if err := fs.shutdown[i](); err != nil {
			errs = append(errs, err)
		}
	}
	fs.shutdown = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type flagValue struct {
	parent *flagSet
	start  startFunc
	curVal string
}

var _ pflag.Value = (*flagValue)(nil)

// String implements pflag.Value.
func (fv *flagValue) String() string { return fv.curVal }

// Set implements pflag.Value.
func (fv *flagValue) Set(filename string) error {
	if filename == "" {
		return nil
	}
	if fv.curVal != "" {
		return fmt.Errorf("already writing to %q", fv.curVal)
	}
	w, err := os.Create(filename)
	if err != nil {
		return err
	}
	shutdown, err := fv.start(w)
	if err != nil {
		_ = w.Close()
		return err
	}
	fv.curVal = filename
	fv.parent.shutdown = append(fv.parent.shutdown, func() error {
		err1 := shutdown()
		err2 := w.Close()
		if err1 != nil {
			return err1
		}
		return err2
	})
	return nil
}

// Type implements pflag.Value.
func (*flagValue) Type() string { return "filename" }

func named(name string) startFunc {
	return func(w io.Writer) (StopFunc, error) {
		return Profile(w, name)
	}
}

// AddProfileFlags adds flags to a pflag.FlagSet to write any (or all)
// of the standard profiles to a file, and returns a "stop" function
// to be called at program shutdown.  Calling the stop function more
// than once is harmless.
func AddProfileFlags(flags *pflag.FlagSet, prefix string) StopFunc {
	var root flagSet

	for _, def := range []struct {
		name  string
		start startFunc
		usage string
	}{
		{"cpu", CPU, "Write a CPU profile to the file `cpu.pprof`"},
		{"trace", Trace, "Write a trace (https://pkg.go.dev/runtime/trace) to the file `trace.out`"},
		{ProfileGoroutine, named(ProfileGoroutine), "Write a goroutine profile to the file `goroutine.pprof`"},
		{ProfileThreadCreate, named(ProfileThreadCreate), "Write a threadcreate profile to the file `threadcreate.pprof`"},
		{ProfileHeap, named(ProfileHeap), "Write a heap profile to the file `heap.pprof`"},
		{ProfileAllocs, named(ProfileAllocs), "Write an allocs profile to the file `allocs.pprof`"},
		{ProfileBlock, named(ProfileBlock), "Write a block profile (turning on block sampling) to the file `block.pprof`"},
		{ProfileMutex, named(ProfileMutex), "Write a mutex profile (turning on mutex sampling) to the file `mutex.pprof`"},
	} {
		flags.Var(&flagValue{parent: &root, start: def.start}, prefix+def.name, def.usage)
		_ = cobra.MarkFlagFilename(flags, prefix+def.name)
	}

	return root.Stop
}
