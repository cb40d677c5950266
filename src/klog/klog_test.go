package klog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func resetOutput() { SetOutput(os.Stderr) }

func TestInfoWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer resetOutput()

	Info("frame %d allocated", 7)

	if got := buf.String(); !strings.Contains(got, "frame 7 allocated") {
		t.Fatalf("Info output = %q, want it to contain the formatted message", got)
	}
}

func TestWarnPrefixesMessage(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer resetOutput()

	Warn("retrying %s", "alloc")

	if got := buf.String(); !strings.HasPrefix(got, "WARN: ") {
		t.Fatalf("Warn output = %q, want it to start with \"WARN: \"", got)
	}
}

func TestPanicLogsThenPanics(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer resetOutput()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Panic did not panic")
		}
		if got := buf.String(); !strings.HasPrefix(got, "PANIC: ") {
			t.Fatalf("Panic output = %q, want it to start with \"PANIC: \"", got)
		}
	}()

	Panic("invariant broken: %d", 42)
}
