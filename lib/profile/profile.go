// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package profile writes profiling information from the Go runtime
// to files named on the command line.
package profile

import (
	"io"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

type StopFunc = func() error

type startFunc = func(io.Writer) (StopFunc, error)

// CPU arranges to write a CPU profile to w, and returns a function
// to be called on shutdown.
func CPU(w io.Writer) (StopFunc, error) {
	if err := pprof.StartCPUProfile(w); err != nil {
		return nil, err
	}
	return func() error {
		pprof.StopCPUProfile()
		return nil
	}, nil
}

// Trace arranges to write a trace (https://pkg.go.dev/runtime/trace)
// to w, and returns a function to be called on shutdown.
func Trace(w io.Writer) (StopFunc, error) {
	if err := trace.Start(w); err != nil {
		return nil, err
	}
	return func() error {
		trace.Stop()
		return nil
	}, nil
}

// The Go runtime's built-in named profiles; to be passed to
// Profile().
const (
	ProfileGoroutine    = "goroutine"
	ProfileThreadCreate = "threadcreate"
	ProfileHeap         = "heap"
	ProfileAllocs       = "allocs"
	ProfileBlock        = "block"
	ProfileMutex        = "mutex"
)

// Profile arranges to write the named profile to w on shutdown.
//
// The block and mutex profiles are empty unless sampling is turned
// on, so asking for one of them turns its sampling on for the life
// of the program; the cache lock and the content-lock waits are what
// these show.
func Profile(w io.Writer, name string) (StopFunc, error) {
	switch name {
	case ProfileBlock:
		runtime.SetBlockProfileRate(1)
	case ProfileMutex:
		runtime.SetMutexProfileFraction(1)
	}
	return func() error {
		if prof := pprof.Lookup(name); prof != nil {
			return prof.WriteTo(w, 0)
		}
		return nil
	}, nil
}

// Profiles returns the names of all profiles that may be passed to
// Profile(); both those built in to the Go runtime, and
// program-added ones.
func Profiles() []string {
	full := pprof.Profiles()
	names := make([]string, len(full))
	for i, prof := range full {
		names[i] = prof.Name()
	}
	return names
}
