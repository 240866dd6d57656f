// Package nlog is DMM's logger: leveled, buffered, file-rotating, with an
// optional stderr mirror. Adapted from aistore's own nlog for a single
// long-lived daemon rather than a clustered node (no per-role log directory).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jkguiang/dmm/cmn/mono"
)

type severity int

const (
	sevDebug severity = iota
	sevInfo
	sevWarn
	sevErr
)

var sevChar = [...]byte{'D', 'I', 'W', 'E'}

// MaxSize is the size (bytes) at which the active log file is rotated.
var MaxSize int64 = 4 * 1024 * 1024

var (
	toStderr     bool
	alsoToStderr bool
	verbose      bool

	logDir string
	title  string

	mu      sync.Mutex
	w       *bufio.Writer
	f       *os.File
	written int64
	last    int64
)

// InitFlags registers DMM's logging flags on flset; call before flag.Parse.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
	flset.BoolVar(&verbose, "v", false, "enable debug-level logging")
}

// SetLogDir sets the directory log files are rotated into; must be called
// before the first log line (or logs go to the working directory).
func SetLogDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logDir = dir
}

// SetTitle sets a banner line stamped at the top of each rotated file.
func SetTitle(s string) { title = s }

// SetVerbose toggles debug-level output (equivalent to -v).
func SetVerbose(v bool) { verbose = v }

func Debugf(format string, args ...any) {
	if verbose {
		logf(sevDebug, format, args...)
	}
}
func Debugln(args ...any) {
	if verbose {
		logln(sevDebug, args...)
	}
}
func Infof(format string, args ...any)    { logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { logln(sevInfo, args...) }
func Warningf(format string, args ...any) { logf(sevWarn, format, args...) }
func Warningln(args ...any)               { logln(sevWarn, args...) }
func Errorf(format string, args ...any)   { logf(sevErr, format, args...) }
func Errorln(args ...any)                 { logln(sevErr, args...) }

func logf(sev severity, format string, args ...any) {
	emit(sev, fmt.Sprintf(format, args...))
}

func logln(sev severity, args ...any) {
	emit(sev, fmt.Sprintln(args...))
}

func emit(sev severity, msg string) {
	line := fmt.Sprintf("%c %s %s", sevChar[sev], time.Now().Format("15:04:05.000000"), msg)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}

	if toStderr || alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
		if toStderr {
			return
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if err := ensureOpen(); err != nil {
		return
	}
	n, _ := w.WriteString(line)
	written += int64(n)
	last = mono.NanoTime()
	if written >= MaxSize {
		rotate()
	}
}

// Flush forces buffered output to disk; exit=true also closes the file
// (called once from main on shutdown).
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	if w != nil {
		w.Flush()
	}
	if len(exit) > 0 && exit[0] && f != nil {
		f.Sync()
		f.Close()
		f, w = nil, nil
	}
}

// under mu
func ensureOpen() error {
	if f != nil {
		return nil
	}
	dir := logDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return openNew(dir, time.Now())
}

// under mu
func openNew(dir string, now time.Time) error {
	name := fmt.Sprintf("dmm.%s.log", now.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f = fh
	w = bufio.NewWriterSize(f, 32*1024)
	written = 0
	banner := "Started up at " + now.Format(time.RFC3339)
	if title != "" {
		banner += ", " + title
	}
	w.WriteString(banner + "\n")

	link := filepath.Join(dir, "dmm.log")
	os.Remove(link)
	os.Symlink(name, link)
	return nil
}

// under mu
func rotate() {
	w.Flush()
	f.Close()
	openNew(logDir, time.Now())
}

// Since returns the time elapsed since the last write.
func Since() time.Duration {
	return time.Duration(mono.NanoTime() - last)
}
