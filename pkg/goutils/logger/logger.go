/*
 * Copyright (c) 2020-present unTill Pro, Ltd. and Contributors
 * @author Maxim Geraskin
 *
 * This source code is licensed under the MIT license found in the
 * LICENSE file in the root directory of this source tree.
 */

// Package logger is a small level-gated logger used throughout reactord.
// It wraps log/slog rather than printing directly so that attributes
// attached via WithContextAttrs show up consistently across call sites.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
)

// TLogLevel s.e.
type TLogLevel int32

// Log Levels enum
const (
	LogLevelNone = TLogLevel(iota)
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelVerbose // aka Debug
	LogLevelTrace
)

var globalLogLevel int32 = int32(LogLevelInfo)

func SetLogLevel(logLevel TLogLevel) (old TLogLevel) {
	old = TLogLevel(atomic.SwapInt32(&globalLogLevel, int32(logLevel)))
	return old
}

func SetLogLevelWithRestore(logLevel TLogLevel) (restore func()) {
	old := SetLogLevel(logLevel)
	return func() {
		SetLogLevel(old)
	}
}

func Error(args ...interface{}) { printIfLevel(1, LogLevelError, args...) }

func Warning(args ...interface{}) { printIfLevel(1, LogLevelWarning, args...) }

func Info(args ...interface{}) { printIfLevel(1, LogLevelInfo, args...) }

func Verbose(args ...interface{}) { printIfLevel(1, LogLevelVerbose, args...) }

func Trace(args ...interface{}) { printIfLevel(1, LogLevelTrace, args...) }

func Log(skipStackFrames int, level TLogLevel, args ...interface{}) {
	printIfLevel(skipStackFrames+1, level, args...)
}

func IsError() bool   { return isEnabled(LogLevelError) }
func IsInfo() bool    { return isEnabled(LogLevelInfo) }
func IsWarning() bool { return isEnabled(LogLevelWarning) }
func IsVerbose() bool { return isEnabled(LogLevelVerbose) }
func IsTrace() bool   { return isEnabled(LogLevelTrace) }

func isEnabled(level TLogLevel) bool {
	return TLogLevel(atomic.LoadInt32(&globalLogLevel)) >= level
}

var PrintLine func(level TLogLevel, line string) = DefaultPrintLine

func DefaultPrintLine(level TLogLevel, line string) {
	var w io.Writer
	if level == LogLevelError {
		w = os.Stderr
	} else {
		w = os.Stdout
	}
	fmt.Fprintln(w, line)
}

func levelName(level TLogLevel) string {
	switch level {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelInfo:
		return "INFO"
	case LogLevelVerbose:
		return "VERBOSE"
	case LogLevelTrace:
		return "TRACE"
	default:
		return "NONE"
	}
}

func printIfLevel(skipStackFrames int, level TLogLevel, args ...interface{}) {
	if !isEnabled(level) {
		return
	}
	fn, line := getFuncName(skipStackFrames + 1)
	line_ := fmt.Sprintf("%s [%s:%d] %s", levelName(level), fn, line, fmt.Sprint(args...))
	PrintLine(level, line_)
}

func getFuncName(skipStackFrames int) (fn string, line int) {
	pc, file, line, ok := runtime.Caller(skipStackFrames + 1)
	if !ok {
		return "?", 0
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return file, line
	}
	return f.Name(), line
}
