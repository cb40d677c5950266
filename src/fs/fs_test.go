package fs

import (
	"testing"

	"defs"
	"ustr"
)

func TestInstallAndOpenRoundTrip(t *testing.T) {
	tr := New()
	tr.Install(ustr.Ustr("/init.bin"), []byte("hello world"))

	f, err := tr.Open(ustr.Ustr("/init.bin"))
	if err != defs.OK {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]uint8, 128)
	n, err := f.Read(buf)
	if err != defs.OK {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello world" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hello world")
	}
}

func TestOpenMissingReturnsNoFile(t *testing.T) {
	tr := New()
	if _, err := tr.Open(ustr.Ustr("/missing")); err != defs.NoFile {
		t.Fatalf("Open missing = %v, want NoFile", err)
	}
}

func TestOpenDirectoryReturnsNoFile(t *testing.T) {
	tr := New()
	tr.Install(ustr.Ustr("/a/b"), []byte("x"))
	if _, err := tr.Open(ustr.Ustr("/a")); err != defs.NoFile {
		t.Fatalf("Open directory = %v, want NoFile", err)
	}
}

func TestNestedPathRoundTrip(t *testing.T) {
	tr := New()
	tr.Install(ustr.Ustr("/a/b/c.txt"), []byte("nested"))
	f, err := tr.Open(ustr.Ustr("/a/b/c.txt"))
	if err != defs.OK {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]uint8, 32)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "nested" {
		t.Fatalf("Read = %q, want %q", buf[:n], "nested")
	}
}

func TestReadAtEOFReturnsZero(t *testing.T) {
	tr := New()
	tr.Install(ustr.Ustr("/x"), []byte("ab"))
	f, _ := tr.Open(ustr.Ustr("/x"))
	buf := make([]uint8, 8)
	f.Read(buf)
	n, err := f.Read(buf)
	if err != defs.OK || n != 0 {
		t.Fatalf("Read at EOF = (%d, %v), want (0, OK)", n, err)
	}
}

func TestWriteFails(t *testing.T) {
	tr := New()
	tr.Install(ustr.Ustr("/x"), []byte("ab"))
	f, _ := tr.Open(ustr.Ustr("/x"))
	if _, err := f.Write([]byte("z")); err != defs.IoError {
		t.Fatalf("Write = %v, want IoError", err)
	}
}
