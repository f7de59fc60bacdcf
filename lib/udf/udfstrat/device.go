// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package udfstrat

import (
	"fmt"
	"io"

	"git.lukeshu.com/udf-progs-ng/lib/diskio"
	"git.lukeshu.com/udf-progs-ng/lib/udf/udfprim"
)

type IOOp uint8

const (
	OpRead IOOp = iota
	OpWrite
)

func (op IOOp) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("IOOp(%d)", uint8(op))
	}
}

// IORequest is a transfer of whole sectors; len(Buf) is a multiple
// of the sector size.
type IORequest struct {
	Op     IOOp
	Sector udfprim.PhysicalSector
	Buf    []byte
}

// IOResult reports the outcome of an IORequest.  SectorErrs is
// either nil (everything succeeded) or has one entry per sector of
// the request.
type IOResult struct {
	N          int
	Err        error
	SectorErrs []error
}

// SectorErr returns the error for the i'th sector of the request.
func (r IOResult) SectorErr(i int) error {
	if r.SectorErrs == nil {
		return r.Err
	}
	return r.SectorErrs[i]
}

// Device is the medium that a Strategy caches.  Submit must not
// block; the callback is called exactly once, from any goroutine.
type Device interface {
	Name() string
	Size() udfprim.PhysicalAddr
	Close() error
	Submit(req IORequest, done func(IOResult))
}

type fileDevice struct {
	file       diskio.File[udfprim.PhysicalAddr]
	sectorSize int
}

// NewFileDevice returns a Device that performs its I/O on a
// diskio.File, in a separate goroutine per request.  If a
// multi-sector transfer fails, it is retried a sector at a time so
// that the failure is attributed to the sectors that caused it.
func NewFileDevice(file diskio.File[udfprim.PhysicalAddr], sectorSize int) Device {
	return &fileDevice{
		file:       file,
		sectorSize: sectorSize,
	}
}

func (dev *fileDevice) Name() string               { return dev.file.Name() }
func (dev *fileDevice) Size() udfprim.PhysicalAddr { return dev.file.Size() }
func (dev *fileDevice) Close() error               { return dev.file.Close() }

func (dev *fileDevice) Submit(req IORequest, done func(IOResult)) {
	if len(req.Buf)%dev.sectorSize != 0 {
		panic(fmt.Errorf("udfstrat: %v of %d bytes is not a whole number of sectors", req.Op, len(req.Buf)))
	}
	go func() {
		done(dev.do(req))
	}()
}

func (dev *fileDevice) xfer(op IOOp, buf []byte, addr udfprim.PhysicalAddr) (int, error) {
	var n int
	var err error
	switch op {
	case OpRead:
		n, err = dev.file.ReadAt(buf, addr)
		if err == io.EOF && n == len(buf) {
			err = nil
		}
	case OpWrite:
		n, err = dev.file.WriteAt(buf, addr)
	}
	if err == nil && n < len(buf) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (dev *fileDevice) do(req IORequest) IOResult {
	n, err := dev.xfer(req.Op, req.Buf, req.Sector.Addr(dev.sectorSize))
	if err == nil {
		return IOResult{N: n}
	}
	nSectors := len(req.Buf) / dev.sectorSize
	if nSectors == 1 {
		return IOResult{N: n, Err: err, SectorErrs: []error{err}}
	}
	ret := IOResult{
		SectorErrs: make([]error, nSectors),
	}
	for i := 0; i < nSectors; i++ {
		buf := req.Buf[i*dev.sectorSize : (i+1)*dev.sectorSize]
		n, err := dev.xfer(req.Op, buf, req.Sector.Add(int64(i)).Addr(dev.sectorSize))
		ret.N += n
		if err != nil {
			ret.SectorErrs[i] = err
			if ret.Err == nil {
				ret.Err = err
			}
		}
	}
	return ret
}
