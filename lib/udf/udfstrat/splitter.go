// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

// Queue splits a request across the ecclines that it touches.
//
// Reads of data that is already cached, and all writes, are
// completed before Queue returns; other reads complete once the
// scheduler has read the data in.  Use req.Wait to get the result.
func (s *Strategy) Queue(ctx context.Context, req *Request) {
	req.start()
	ctx = dlog.WithField(ctx, "udf.strat.op", req.Dir)
	// Sequential writes ignore Off; their location is allocated.
	seqWrite := req.Dir == DirWrite && req.Class == ClassAllocated
	if !seqWrite && (req.Off < 0 || req.Off+udfprim.PhysicalAddr(len(req.Buf)) > s.dev.Size()) {
		req.complete(len(req.Buf), fmt.Errorf("udfstrat: %v of %d bytes at %v: out of range",
			req.Dir, len(req.Buf), req.Off))
		return
	}
	switch {
	case req.Dir == DirRead:
		s.queueRead(ctx, req, req.Off, req.Buf, 0)
	case seqWrite:
		s.queueSeqWrite(ctx, req)
	default:
		s.queueWrite(ctx, req, req.Off, req.Buf, 0, false)
	}
}

// span is the part of a request that falls within one sector.
type span struct {
	idx    int // sector index within the line
	secOff int
	bufOff int
	n      int
}

// spans splits [off, off+len) (which must lie within line) into
// per-sector pieces; bufBase is the request-buffer offset of off.
func (s *Strategy) spans(line *eccline, off udfprim.PhysicalAddr, n, bufBase int) []span {
	ss := udfprim.PhysicalAddr(s.cfg.SectorSize)
	lineBeg := line.start.Addr(s.cfg.SectorSize)
	var ret []span
	for done := 0; done < n; {
		cur := off + udfprim.PhysicalAddr(done)
		secOff := int((cur - lineBeg) % ss)
		chunk := s.cfg.SectorSize - secOff
		if chunk > n-done {
			chunk = n - done
		}
		ret = append(ret, span{
			idx:    int((cur - lineBeg) / ss),
			secOff: secOff,
			bufOff: bufBase + done,
			n:      chunk,
		})
		done += chunk
	}
	return ret
}

// lineChunk returns how many of the n bytes at off fall within the
// packet containing off.
func (s *Strategy) lineChunk(off udfprim.PhysicalAddr, n int) int {
	pb := udfprim.PhysicalAddr(s.cfg.packetBytes())
	rest := int(pb - off%pb)
	if rest > n {
		rest = n
	}
	return rest
}

// queueRead handles the bytes buf (at off, and at bufBase within
// req.Buf) of a read request.
func (s *Strategy) queueRead(ctx context.Context, req *Request, off udfprim.PhysicalAddr, buf []byte, bufBase int) {
	for done := 0; done < len(buf); {
		cur := off + udfprim.PhysicalAddr(done)
		n := s.lineChunk(cur, len(buf)-done)
		line, err := s.acquire(ctx, cur.Sector(s.cfg.SectorSize))
		if err != nil {
			req.complete(len(buf)-done, err)
			return
		}
		for _, sp := range s.spans(line, cur, n, bufBase+done) {
			switch {
			case line.usable(sp.idx):
				src := line.blob[sp.idx*s.cfg.SectorSize+sp.secOff:]
				copy(req.Buf[sp.bufOff:sp.bufOff+sp.n], src)
				req.complete(sp.n, nil)
			case line.present.Get(sp.idx):
				req.complete(sp.n, line.sectorErrs[sp.idx])
			default:
				line.pending[sp.idx] = append(line.pending[sp.idx], splitRef{
					req:    req,
					bufOff: sp.bufOff,
					secOff: sp.secOff,
					n:      sp.n,
				})
				line.readin.Set(sp.idx)
			}
		}
		s.release(line)
		done += n
	}
}

// preRead reads the sector containing off in to the cache, so that a
// write that only partly covers it can be merged.
func (s *Strategy) preRead(ctx context.Context, off udfprim.PhysicalAddr) error {
	ss := udfprim.PhysicalAddr(s.cfg.SectorSize)
	sub := &Request{
		Class: ClassData,
		Dir:   DirRead,
		Off:   off - off%ss,
		Buf:   make([]byte, ss),
	}
	sub.start()
	s.queueRead(ctx, sub, sub.Off, sub.Buf, 0)
	return sub.Wait(ctx)
}

// queueWrite handles the bytes buf (at off, and at bufBase within
// req.Buf) of a write request.
func (s *Strategy) queueWrite(ctx context.Context, req *Request, off udfprim.PhysicalAddr, buf []byte, bufBase int, seq bool) {
	ss := s.cfg.SectorSize
	for done := 0; done < len(buf); {
		cur := off + udfprim.PhysicalAddr(done)
		n := s.lineChunk(cur, len(buf)-done)
		line, err := s.acquire(ctx, cur.Sector(ss))
		if err != nil {
			req.complete(len(buf)-done, err)
			return
		}
		spans := s.spans(line, cur, n, bufBase+done)

		// Sectors that are only partly covered must be known
		// before they can be merged.
		var needRead *span
		for i := range spans {
			if spans[i].n < ss && !line.usable(spans[i].idx) {
				needRead = &spans[i]
				break
			}
		}
		if needRead != nil {
			if line.present.Get(needRead.idx) {
				err := line.sectorErrs[needRead.idx]
				s.release(line)
				req.complete(len(buf)-done, err)
				return
			}
			secAddr := line.start.Add(int64(needRead.idx)).Addr(ss)
			s.release(line)
			if err := s.preRead(ctx, secAddr); err != nil {
				req.complete(len(buf)-done, err)
				return
			}
			// The line may have been recycled while we
			// weren't holding it; start this packet over.
			continue
		}

		for _, sp := range spans {
			dst := line.blob[sp.idx*ss+sp.secOff:]
			copy(dst[:sp.n], req.Buf[sp.bufOff:sp.bufOff+sp.n])
			line.present.Set(sp.idx)
			line.dirty.Set(sp.idx)
			line.errs.Clear(sp.idx)
			line.sectorErrs[sp.idx] = nil
			if len(line.pending[sp.idx]) > 0 {
				line.deliver(sp.idx, ss, nil)
			}
			line.readin.Clear(sp.idx)
		}
		if seq {
			line.seqwriting = true
		}
		s.release(line)
		req.complete(n, nil)
		done += n
	}
}

// queueSeqWrite allocates blocks for a request's data and writes it
// there.
func (s *Strategy) queueSeqWrite(ctx context.Context, req *Request) {
	ss := s.cfg.SectorSize
	count := (len(req.Buf) + ss - 1) / ss
	if count == 0 {
		return
	}
	if s.alloc == nil || s.vol == nil {
		req.complete(len(req.Buf), fmt.Errorf("udfstrat: sequential write without an allocator"))
		return
	}

	sectors, err := func() ([]udfprim.PhysicalSector, error) {
		s.allocMu.Lock()
		defer s.allocMu.Unlock()
		blocks, err := s.alloc.Allocate(ctx, req.Partition, count)
		if err != nil {
			return nil, err
		}
		ret := make([]udfprim.PhysicalSector, len(blocks))
		for i, lb := range blocks {
			ext, err := s.vol.Translate(req.Partition, lb)
			if err != nil {
				return nil, err
			}
			if ext.Hole {
				return nil, fmt.Errorf("udfstrat: allocated block %v in partition %v has no backing storage",
					lb, req.Partition)
			}
			ret[i] = ext.Sector
		}
		req.Location = blocks[0]
		return ret, nil
	}()
	if err != nil {
		req.complete(len(req.Buf), err)
		return
	}
	dlog.Tracef(ctx, "allocated %d blocks at %v:%v", count, req.Partition, req.Location)

	// Write each physically-contiguous run.
	for beg := 0; beg < len(sectors); {
		end := beg + 1
		for end < len(sectors) && sectors[end] == sectors[end-1]+1 {
			end++
		}
		bufBeg := beg * ss
		bufEnd := end * ss
		if bufEnd > len(req.Buf) {
			bufEnd = len(req.Buf)
		}
		s.queueWrite(ctx, req, sectors[beg].Addr(ss), req.Buf[bufBeg:bufEnd], bufBeg, true)
		beg = end
	}
}
