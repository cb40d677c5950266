// Package klog is the kernel's logging sink: a thin wrapper over
// fmt.Fprintf with a level prefix, matching the teacher's plain
// Printf-style logging convention. No buffering, no structured fields.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"caller"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects kernel log output, e.g. to the console writer
// once it is brought up.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func printf(prefix, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, prefix+format+"\n", args...)
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	printf("", format, args...)
}

// Warn logs a recoverable anomaly.
func Warn(format string, args ...interface{}) {
	printf("WARN: ", format, args...)
}

// Panic logs a fatal-invariant message along with the caller chain
// that led to it, then panics, matching the teacher's bare panic()
// convention but recording context first.
func Panic(format string, args ...interface{}) {
	printf("PANIC: ", format, args...)
	caller.Callerdump(2)
	panic(fmt.Sprintf(format, args...))
}
