// Package console is the out-of-scope console contract (spec §6):
// a write-only byte stream, interpreted as UTF-8 with '?' substitution
// for invalid sequences, targeting port 0xE9 (the Bochs/QEMU debug
// console). Grounded on the teacher's console driver shape (a
// circbuf-backed sink drained by a single writer) with the
// UTF-8-sanitizing transform borrowed from golang.org/x/text/runes,
// the same ecosystem package the rest of the pack reaches for
// whenever text needs cleaning before it crosses a byte-oriented
// boundary.
package console

import (
	"sync"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"arch"
	"circbuf"
	"defs"
)

const debugPort = 0xE9

// sanitize replaces ill-formed UTF-8 with '?' before bytes reach the
// port, matching the "'?' substitution for invalid sequences" clause.
var sanitize = transform.Chain(
	runes.ReplaceIllFormed(),
	runes.Map(func(r rune) rune {
		if r == 0xFFFD {
			return '?'
		}
		return r
	}),
)

// Console is a buffered, single-writer sink. Bytes are staged through
// a circbuf and drained to the debug port at the end of each Write.
type Console struct {
	mu  sync.Mutex
	buf circbuf.Circbuf_t
}

// New returns a Console with a page-sized staging buffer.
func New() *Console {
	c := &Console{}
	c.buf.Cb_init(4096)
	return c
}

// Write sanitizes src as UTF-8 and stages it for output, implementing
// fdops.File_i.
func (c *Console) Write(src []uint8) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clean, _, err := transform.Bytes(sanitize, src)
	if err != nil {
		return 0, defs.IoError
	}
	n, werr := c.buf.Copyin(clean)
	if werr != defs.OK {
		return n, werr
	}
	c.drainLocked()
	if n < len(src) {
		return n, defs.IoError
	}
	return len(src), defs.OK
}

// Read always fails: the console is write-only (spec §6).
func (c *Console) Read(dst []uint8) (int, defs.Err_t) {
	return 0, defs.IoError
}

func (c *Console) Close() {}

// drainLocked writes every staged byte out to the debug port. Called
// with c.mu held.
func (c *Console) drainLocked() {
	tmp := make([]uint8, 64)
	for !c.buf.Empty() {
		n, _ := c.buf.Copyout(tmp)
		if n == 0 {
			break
		}
		for _, b := range tmp[:n] {
			arch.Outb(debugPort, b)
		}
	}
}
