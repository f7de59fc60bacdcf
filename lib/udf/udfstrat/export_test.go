// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// SectorState reports the cache state of a sector; it must only be
// called while the strategy is quiescent.
func (s *Strategy) SectorState(sector udfprim.PhysicalSector) (present, dirty, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hash[s.packetStart(sector)]
	if !ok {
		return false, false, false
	}
	line := s.line(h)
	i := int(sector - line.start)
	return line.present.Get(i), line.dirty.Get(i), true
}

// LineStarts returns the start sector of every cached line.
func (s *Strategy) LineStarts() []udfprim.PhysicalSector {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := maps.Keys(s.hash)
	slices.Sort(ret)
	return ret
}

func (s *Strategy) CheckInvariants() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkInvariantsLocked()
}
