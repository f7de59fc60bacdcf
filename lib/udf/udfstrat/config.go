// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"fmt"
	"time"

	"git.lukeshu.com/udf-progs-ng/lib/textui"
)

// Config holds the tunables of a Strategy.
type Config struct {
	SectorSize int
	PacketSize int // sectors per eccline

	// MaxLines is the most ecclines that may exist at once.
	MaxLines int
	// MaxFree is the most clean, unreferenced ecclines kept
	// around for a possible re-use before being disposed of.
	MaxFree int
	// MaxInFlight is the most ecclines the scheduler will have
	// device I/O outstanding for at once.
	MaxInFlight int

	// WaitTime is how long a dirty line sits in WAITING before it
	// is written back.
	WaitTime time.Duration
	// SwitchTime is how long the scheduler stays bound to an
	// empty queue before going back to READING.
	SwitchTime time.Duration
	// RetryTime bounds each wait for a content lock or for a
	// free line; the wait is retried until it succeeds.  It is also
	// the delay before retrying a failed write-back.
	RetryTime time.Duration

	// MaxWriteAttempts is how many failed write-backs of a line
	// Close tolerates before discarding the line's dirty data.
	// Values below 1 mean 1.
	MaxWriteAttempts int `json:",omitempty"`

	// Paranoid enables checking the line invariants after every
	// scheduler iteration.
	Paranoid bool `json:",omitempty"`
}

// DefaultConfig returns the default tunables for a medium with the
// given geometry.
func DefaultConfig(sectorSize, packetSize int) Config {
	return Config{
		SectorSize:  sectorSize,
		PacketSize:  packetSize,
		MaxLines:    textui.Tunable(128),
		MaxFree:     textui.Tunable(32),
		MaxInFlight: textui.Tunable(8),
		WaitTime:    textui.Tunable(100 * time.Millisecond),
		SwitchTime:  textui.Tunable(2 * time.Second),
		RetryTime:   textui.Tunable(50 * time.Millisecond),

		MaxWriteAttempts: textui.Tunable(3),
	}
}

func (cfg Config) validate() error {
	switch {
	case cfg.SectorSize <= 0:
		return fmt.Errorf("invalid sector size %v", cfg.SectorSize)
	case cfg.PacketSize <= 0:
		return fmt.Errorf("invalid packet size %v", cfg.PacketSize)
	case cfg.MaxLines <= 0:
		return fmt.Errorf("invalid MaxLines %v", cfg.MaxLines)
	case cfg.MaxFree < 0 || cfg.MaxFree > cfg.MaxLines:
		return fmt.Errorf("invalid MaxFree %v (MaxLines=%v)", cfg.MaxFree, cfg.MaxLines)
	case cfg.MaxInFlight <= 0:
		return fmt.Errorf("invalid MaxInFlight %v", cfg.MaxInFlight)
	case cfg.WaitTime < 0 || cfg.SwitchTime < 0 || cfg.RetryTime <= 0:
		return fmt.Errorf("invalid timing tunables")
	case cfg.MaxWriteAttempts < 0:
		return fmt.Errorf("invalid MaxWriteAttempts %v", cfg.MaxWriteAttempts)
	}
	return nil
}

func (cfg Config) packetBytes() int {
	return cfg.SectorSize * cfg.PacketSize
}

func (cfg Config) maxWriteAttempts() int {
	if cfg.MaxWriteAttempts < 1 {
		return 1
	}
	return cfg.MaxWriteAttempts
}
