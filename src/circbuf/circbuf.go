// Package circbuf is a small circular byte buffer backed by the
// kernel heap, used by the console driver to decouple producer and
// consumer rates. Adapted from the teacher's circbuf.go: the physical
// page backing (mem.Page_i, Pg2bytes) is gone now that there is no
// direct map of all RAM, replaced by a kheap allocation; the raw
// wraparound index arithmetic and Full/Empty/Left/Used accounting are
// kept as the teacher wrote them. Not safe for concurrent use.
package circbuf

import (
	"unsafe"

	"defs"
	"kheap"
)

type Circbuf_t struct {
	Buf   []uint8
	bufsz int
	head  int
	tail  int
}

// Bufsz returns the configured buffer size.
func (cb *Circbuf_t) Bufsz() int {
	return cb.bufsz
}

// Cb_init records the buffer size; the backing allocation happens
// lazily on first use so that an allocation failure surfaces at
// read/write time rather than at construction.
func (cb *Circbuf_t) Cb_init(sz int) defs.Err_t {
	if sz <= 0 || sz > 4096 {
		panic("bad circbuf size")
	}
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return defs.OK
}

// Cb_ensure guarantees the buffer is allocated.
func (cb *Circbuf_t) Cb_ensure() defs.Err_t {
	if cb.Buf != nil {
		return defs.OK
	}
	if cb.bufsz == 0 {
		panic("not initted")
	}
	p, err := kheap.Alloc(uintptr(cb.bufsz), 1)
	if err != defs.OK {
		return err
	}
	cb.Buf = unsafe.Slice((*byte)(unsafe.Pointer(p)), cb.bufsz)
	return defs.OK
}

// Cb_release returns the backing allocation to the heap.
func (cb *Circbuf_t) Cb_release() {
	if cb.Buf == nil {
		return
	}
	kheap.Free(uintptr(cb.bufsz), uintptr(unsafe.Pointer(&cb.Buf[0])))
	cb.Buf = nil
	cb.head, cb.tail = 0, 0
}

// Full returns true when the buffer cannot accept more data.
func (cb *Circbuf_t) Full() bool {
	return cb.head-cb.tail == cb.bufsz
}

// Empty reports whether the buffer contains any data.
func (cb *Circbuf_t) Empty() bool {
	return cb.head == cb.tail
}

// Left returns the remaining capacity in bytes.
func (cb *Circbuf_t) Left() int {
	return cb.bufsz - (cb.head - cb.tail)
}

// Used returns the current number of bytes in the buffer.
func (cb *Circbuf_t) Used() int {
	return cb.head - cb.tail
}

// Copyin copies src into the circular buffer, writing as much as fits.
func (cb *Circbuf_t) Copyin(src []uint8) (int, defs.Err_t) {
	if err := cb.Cb_ensure(); err != defs.OK {
		return 0, err
	}
	if cb.Full() {
		return 0, defs.OK
	}
	if len(src) > cb.Left() {
		src = src[:cb.Left()]
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.Buf[hi:]
		n := copy(dst, src)
		c += n
		src = src[n:]
		hi = (cb.head + n) % cb.bufsz
	}
	if len(src) > 0 {
		dst := cb.Buf[hi:ti]
		n := copy(dst, src)
		c += n
	}
	cb.head += c
	return c, defs.OK
}

// Copyout writes up to len(dst) bytes of the buffer's contents to dst.
func (cb *Circbuf_t) Copyout(dst []uint8) (int, defs.Err_t) {
	if err := cb.Cb_ensure(); err != defs.OK {
		return 0, err
	}
	if cb.Empty() {
		return 0, defs.OK
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.Buf[ti:]
		n := copy(dst, src)
		c += n
		dst = dst[n:]
		ti = (cb.tail + n) % cb.bufsz
	}
	if len(dst) > 0 && hi > ti {
		src := cb.Buf[ti:hi]
		n := copy(dst, src)
		c += n
	}
	cb.tail += c
	return c, defs.OK
}
