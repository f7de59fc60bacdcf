// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dlog"
)

// Stats is a snapshot of progress that can be compared against the
// previous snapshot to avoid logging the same thing twice.
type Stats interface {
	comparable
	fmt.Stringer
}

// Progress periodically logs the most recent value passed to Set.
// Nothing is logged (and no goroutine is started) until the first
// call to Set.
type Progress[T Stats] struct {
	ctx      context.Context //nolint:containedctx // For use by the logging goroutine
	lvl      dlog.LogLevel
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	cur     atomic.Value // Value[T]
	oldStat T
	oldLine string
}

func NewProgress[T Stats](ctx context.Context, lvl dlog.LogLevel, interval time.Duration) *Progress[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress[T]{
		ctx:      ctx,
		lvl:      lvl,
		interval: interval,

		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Set updates the value to be logged.  The first call logs the value
// immediately.
func (p *Progress[T]) Set(val T) {
	if p.cur.Swap(val) == nil {
		go p.run()
	}
}

// Done logs the final value (if it has changed since it was last
// logged) and stops the logging goroutine.
func (p *Progress[T]) Done() {
	p.cancel()
	if p.cur.Load() != nil {
		<-p.done
	}
}

func (p *Progress[T]) flush(force bool) {
	cur, _ := p.cur.Load().(T)
	if !force && cur == p.oldStat {
		return
	}
	p.oldStat = cur

	line := cur.String()
	if !force && line == p.oldLine {
		return
	}
	p.oldLine = line

	dlog.Log(p.ctx, p.lvl, line)
}

func (p *Progress[T]) run() {
	defer close(p.done)
	p.flush(true)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.flush(false)
			return
		case <-ticker.C:
			p.flush(false)
		}
	}
}
