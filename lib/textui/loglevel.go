// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/pflag"
)

// LogLevelFlag is a pflag.Value for choosing how verbose the logger
// returned by NewLogger is.
type LogLevelFlag struct {
	Level dlog.LogLevel
}

var _ pflag.Value = (*LogLevelFlag)(nil)

var logLevelNames = []struct {
	lvl   dlog.LogLevel
	names []string
}{
	{dlog.LogLevelError, []string{"error", "err"}},
	{dlog.LogLevelWarn, []string{"warn", "warning", "wrn"}},
	{dlog.LogLevelInfo, []string{"info", "inf"}},
	{dlog.LogLevelDebug, []string{"debug", "dbg"}},
	{dlog.LogLevelTrace, []string{"trace", "trc"}},
}

// Type implements pflag.Value.
func (lvl *LogLevelFlag) Type() string { return "loglevel" }

// Set implements pflag.Value.
func (lvl *LogLevelFlag) Set(str string) error {
	str = strings.ToLower(str)
	for _, ent := range logLevelNames {
		for _, name := range ent.names {
			if str == name {
				lvl.Level = ent.lvl
				return nil
			}
		}
	}
	return fmt.Errorf("invalid log level: %q", str)
}

// String implements pflag.Value.
func (lvl *LogLevelFlag) String() string {
	for _, ent := range logLevelNames {
		if ent.lvl == lvl.Level {
			return ent.names[0]
		}
	}
	panic(fmt.Errorf("invalid log level: %#v", lvl.Level))
}
