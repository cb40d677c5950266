package circbuf

import "testing"

func TestCopyinCopyoutRoundTrip(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(8)
	// Supply the backing store directly: Cb_ensure would otherwise
	// allocate it from kheap, which needs a booted physical allocator.
	cb.Buf = make([]uint8, 8)

	n, err := cb.Copyin([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("Copyin = (%d, %v), want (5, OK)", n, err)
	}

	out := make([]byte, 5)
	n, err = cb.Copyout(out)
	if err != 0 || n != 5 || string(out) != "hello" {
		t.Fatalf("Copyout = (%d, %q, %v), want (5, hello, OK)", n, out, err)
	}
	if !cb.Empty() {
		t.Fatalf("expected buffer empty after full drain")
	}
}

func TestCopyinStopsWhenFull(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4)
	cb.Buf = make([]uint8, 4)
	n, _ := cb.Copyin([]byte("abcdef"))
	if n != 4 {
		t.Fatalf("Copyin truncated to capacity = %d, want 4", n)
	}
	if !cb.Full() {
		t.Fatalf("expected buffer full")
	}
}

func TestWraparound(t *testing.T) {
	var cb Circbuf_t
	cb.Cb_init(4)
	cb.Buf = make([]uint8, 4)
	cb.Copyin([]byte("ab"))
	out := make([]byte, 2)
	cb.Copyout(out)
	n, err := cb.Copyin([]byte("cdef"))
	if err != 0 {
		t.Fatalf("Copyin: %v", err)
	}
	got := make([]byte, n)
	cb.Copyout(got)
	if string(got) != "cdef"[:n] {
		t.Fatalf("wraparound Copyout = %q", got)
	}
}
