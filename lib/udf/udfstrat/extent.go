// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfvol"
)

// readRuns reads the physically contiguous runs of a sector map in
// to dst through the cache; entries for which skip returns true are
// left alone.
func (s *Strategy) readRuns(ctx context.Context, dst []byte, sectors []udfprim.PhysicalSector, skip func(udfprim.PhysicalSector) bool) error {
	ss := s.cfg.SectorSize
	var reqs []*Request
	for beg := 0; beg < len(sectors); {
		if skip(sectors[beg]) {
			beg++
			continue
		}
		end := beg + 1
		for end < len(sectors) && !skip(sectors[end]) && sectors[end] == sectors[end-1]+1 {
			end++
		}
		req := &Request{
			Class: ClassData,
			Dir:   DirRead,
			Off:   sectors[beg].Addr(ss),
			Buf:   dst[beg*ss : end*ss],
		}
		s.Queue(ctx, req)
		reqs = append(reqs, req)
		beg = end
	}
	var errs derror.MultiError
	for _, req := range reqs {
		if err := req.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ReadExtent reads count blocks starting at lb in a partition.
// Holes read as zero.
func (s *Strategy) ReadExtent(ctx context.Context, part udfprim.PartitionNum, lb udfprim.LogicalBlock, count int) ([]byte, error) {
	if s.vol == nil {
		return nil, fmt.Errorf("udfstrat.ReadExtent: no volume")
	}
	ctx = dlog.WithField(ctx, "udf.vol.partition", part)
	ctx = dlog.WithField(ctx, "udf.vol.block", lb)

	sectors := make([]udfprim.PhysicalSector, 0, count)
	for len(sectors) < count {
		cur := lb + udfprim.LogicalBlock(len(sectors))
		ext, err := s.vol.Translate(part, cur)
		if err != nil {
			return nil, err
		}
		n := int64(count - len(sectors))
		if ext.Len < n {
			n = ext.Len
		}
		for i := int64(0); i < n; i++ {
			if ext.Hole {
				sectors = append(sectors, udfvol.MappingZero)
			} else {
				sectors = append(sectors, ext.Sector.Add(i))
			}
		}
	}

	dst := make([]byte, count*s.cfg.SectorSize)
	err := s.readRuns(ctx, dst, sectors, func(sec udfprim.PhysicalSector) bool {
		return sec == udfvol.MappingZero
	})
	if err != nil {
		return nil, fmt.Errorf("read extent %v:%v+%d: %w", part, lb, count, err)
	}
	return dst, nil
}

// ReadFileExtent reads count sectors of a file, starting at sector
// from within the file.
func (s *Strategy) ReadFileExtent(ctx context.Context, file udfvol.FileNode, from udfprim.LogicalBlock, count int) ([]byte, error) {
	if s.vol == nil {
		return nil, fmt.Errorf("udfstrat.ReadFileExtent: no volume")
	}
	sectors, err := s.vol.TranslateFileExtent(file, from, count)
	if err != nil {
		return nil, err
	}
	ss := s.cfg.SectorSize
	dst := make([]byte, count*ss)
	for i, sec := range sectors {
		if sec != udfvol.MappingIntern {
			continue
		}
		off := (int(from) + i) * ss
		if off < len(file.AllocDescs) {
			copy(dst[i*ss:(i+1)*ss], file.AllocDescs[off:])
		}
	}
	err = s.readRuns(ctx, dst, sectors, func(sec udfprim.PhysicalSector) bool {
		return sec == udfvol.MappingZero || sec == udfvol.MappingIntern
	})
	if err != nil {
		return nil, fmt.Errorf("read file extent +%d: %w", from, err)
	}
	return dst, nil
}
