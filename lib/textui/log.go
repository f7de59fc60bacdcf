// Copyright (C) 2019-2022  Ambassador Labs
// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: Apache-2.0
//
// Contains code based on:
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_logrus.go
// https://github.com/datawire/dlib/blob/b09ab2e017e16d261f05fff5b3b860d645e774d4/dlog/logger_testing.go
// https://github.com/telepresenceio/telepresence/blob/ece94a40b00a90722af36b12e40f91cbecc0550c/pkg/log/formatter.go

package textui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/slices"
)

type logger struct {
	parent *logger
	out    io.Writer
	lvl    dlog.LogLevel

	// only valid if parent is non-nil
	fieldKey string
	fieldVal any
}

var _ dlog.OptimizedLogger = (*logger)(nil)

func NewLogger(out io.Writer, lvl dlog.LogLevel) dlog.Logger {
	return &logger{
		out: out,
		lvl: lvl,
	}
}

// Helper implements dlog.Logger.
func (l *logger) Helper() {}

// WithField implements dlog.Logger.
func (l *logger) WithField(key string, value any) dlog.Logger {
	return &logger{
		parent: l,
		out:    l.out,
		lvl:    l.lvl,

		fieldKey: key,
		fieldVal: value,
	}
}

type logWriter struct {
	log *logger
	lvl dlog.LogLevel
}

// Write implements io.Writer.
func (lw logWriter) Write(data []byte) (int, error) {
	lw.log.log(lw.lvl, func(w io.Writer) {
		_, _ = w.Write(data)
	})
	return len(data), nil
}

// StdLogger implements dlog.Logger.
func (l *logger) StdLogger(lvl dlog.LogLevel) *log.Logger {
	return log.New(logWriter{log: l, lvl: lvl}, "", 0)
}

// Log implements dlog.Logger.
func (l *logger) Log(lvl dlog.LogLevel, msg string) {
	panic("should not happen: optimized log methods should be used instead")
}

// UnformattedLog implements dlog.OptimizedLogger.
func (l *logger) UnformattedLog(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprint(w, args...)
	})
}

// UnformattedLogln implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogln(lvl dlog.LogLevel, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintln(w, args...)
	})
}

// UnformattedLogf implements dlog.OptimizedLogger.
func (l *logger) UnformattedLogf(lvl dlog.LogLevel, format string, args ...any) {
	l.log(lvl, func(w io.Writer) {
		_, _ = printer.Fprintf(w, format, args...)
	})
}

var (
	logBufPool = typedsync.Pool[*bytes.Buffer]{
		New: func() *bytes.Buffer {
			return new(bytes.Buffer)
		},
	}
	logMu      sync.Mutex
	thisModDir string
)

func init() {
	//nolint:dogsled // I can't change the signature of the stdlib.
	_, file, _, _ := runtime.Caller(0)
	thisModDir = filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

var levelTags = map[dlog.LogLevel]string{
	dlog.LogLevelError: "ERR",
	dlog.LogLevelWarn:  "WRN",
	dlog.LogLevelInfo:  "INF",
	dlog.LogLevelDebug: "DBG",
	dlog.LogLevelTrace: "TRC",
}

type logField struct {
	key string
	val any
	ord int
}

// fields returns the fields attached to l, innermost value winning,
// sorted by fieldOrd then by key.
func (l *logger) fields() []logField {
	seen := make(map[string]struct{})
	var ret []logField
	for f := l; f.parent != nil; f = f.parent {
		if _, dup := seen[f.fieldKey]; dup {
			continue
		}
		seen[f.fieldKey] = struct{}{}
		ret = append(ret, logField{key: f.fieldKey, val: f.fieldVal, ord: fieldOrd(f.fieldKey)})
	}
	slices.SortFunc(ret, func(a, b logField) bool {
		if a.ord != b.ord {
			return a.ord < b.ord
		}
		return a.key < b.key
	})
	return ret
}

func (l *logger) log(lvl dlog.LogLevel, writeMsg func(io.Writer)) {
	if lvl > l.lvl {
		return
	}
	buf, _ := logBufPool.Get()
	defer logBufPool.Put(buf)
	defer buf.Reset()

	const timeFmt = "2006-01-02 15:04:05.0000"
	buf.Write(time.Now().AppendFormat(make([]byte, 0, len(timeFmt)), timeFmt))
	if tag, ok := levelTags[lvl]; ok {
		buf.WriteByte(' ')
		buf.WriteString(tag)
	}

	// Fields with a negative ord go before the message, the rest
	// after it.
	fields := l.fields()
	split := slices.IndexFunc(fields, func(f logField) bool { return f.ord >= 0 })
	if split < 0 {
		split = len(fields)
	}
	for _, f := range fields[:split] {
		writeField(buf, f.key, f.val)
	}

	buf.WriteString(" : ")
	writeMsg(buf)

	file, line, haveCaller := logCaller()
	if split < len(fields) || haveCaller {
		buf.WriteString(" :")
	}
	for _, f := range fields[split:] {
		writeField(buf, f.key, f.val)
	}
	if haveCaller {
		fmt.Fprintf(buf, " (from %s:%d)", file, line)
	}
	buf.WriteByte('\n')

	logMu.Lock()
	_, _ = l.out.Write(buf.Bytes())
	logMu.Unlock()
}

// logCaller returns the innermost frame that is in this module but
// outside of this package.
func logCaller() (file string, line int, ok bool) {
	const (
		thisModule  = "git.lukeshu.com/udf-progs-ng"
		thisPackage = thisModule + "/lib/textui"
		maxDepth    = 25
		skip        = 4 // runtime.Callers, logCaller, .log, .Log
	)
	var pcs [maxDepth]uintptr
	frames := runtime.CallersFrames(pcs[:runtime.Callers(skip, pcs[:])])
	for f, more := frames.Next(); more; f, more = frames.Next() {
		if !strings.HasPrefix(f.Function, thisModule+"/") || strings.HasPrefix(f.Function, thisPackage+".") {
			continue
		}
		return strings.TrimPrefix(f.File, thisModDir+"/"), f.Line, true
	}
	return "", 0, false
}

// fieldOrds positions well-known log fields.  Lower values go further
// left; negative values go to the left of the message.  Unlisted
// fields get 1.
var fieldOrds = map[string]int{
	"THREAD": -99, // dgroup

	"udf.vol.partition": -30,
	"udf.vol.block":     -29,

	"udf.strat.queue":  -20,
	"udf.strat.op":     -19,
	"udf.strat.sector": -18,

	"udf.read-json-file": -1,
}

func fieldOrd(key string) int {
	if ord, ok := fieldOrds[key]; ok {
		return ord
	}
	return 1
}

func needsQuote(val []byte) bool {
	if bytes.HasPrefix(val, []byte(`"`)) {
		return true
	}
	for _, r := range string(val) {
		if !unicode.IsPrint(r) || r == ' ' {
			return true
		}
	}
	return false
}

func writeField(w io.Writer, key string, val any) {
	valBuf, _ := logBufPool.Get()
	defer func() {
		valBuf.Reset()
		logBufPool.Put(valBuf)
	}()
	_, _ = printer.Fprint(valBuf, val)
	valStr := valBuf.Bytes()
	if needsQuote(valStr) {
		valStr = []byte(fmt.Sprintf("%q", valStr))
	}

	name := key
	switch {
	case key == "THREAD":
		name = "thread"
		if len(valStr) == 0 || string(valStr) == "/main" {
			return
		}
		if rest := bytes.TrimPrefix(valStr, []byte("/main/")); len(rest) < len(valStr) {
			valStr = rest
		} else {
			valStr = bytes.TrimPrefix(valStr, []byte("/"))
		}
	case key == "udf.strat.queue":
		fmt.Fprintf(w, "/%s", valStr)
		return
	default:
		for _, prefix := range []string{"udf.strat.", "udf.vol.", "udf."} {
			if strings.HasPrefix(key, prefix) {
				name = strings.TrimPrefix(key, prefix)
				break
			}
		}
	}

	fmt.Fprintf(w, " %s=%s", name, valStr)
}
