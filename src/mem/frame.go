package mem

// Frame is an RAII handle over a RawFrame (spec §3 "Frame (owned)").
// Construction increments the shared refcount; Drop decrements it and,
// on last release, returns the page to the free list. The zero Frame
// is the "no frame" value and Drop on it is a no-op.
type Frame struct {
	raw RawFrame
}

// newFrame wraps raw in a Frame, bumping its refcount. Callers that
// already hold a reference (e.g. Alloc, which owns the only
// reference to a freshly bumped page) use this to mint the first
// Frame over it.
func newFrame(raw RawFrame) Frame {
	physmem.refUp(raw)
	return Frame{raw: raw}
}

// Clone increments the refcount and returns a new Frame aliasing the
// same RawFrame (spec property test 2).
func (f Frame) Clone() Frame {
	if f.raw == 0 {
		return Frame{}
	}
	physmem.refUp(f.raw)
	return Frame{raw: f.raw}
}

// Drop decrements the refcount, returning the frame to the free list
// on the 1->0 transition. Calling Drop more than once on the same
// Frame value is a use-after-free bug in the caller, not guarded
// against here (Frame is a value type with no generation counter,
// matching the teacher's raw-handle style).
func (f *Frame) Drop() {
	if f.raw == 0 {
		return
	}
	if physmem.refDown(f.raw) {
		physmem.pushFree(f.raw)
	}
	f.raw = 0
}

// Raw returns the underlying RawFrame without affecting the refcount.
func (f Frame) Raw() RawFrame {
	return f.raw
}

// IntoRaw converts a Frame to a RawFrame without touching the
// refcount, used when a frame's ownership is being transferred to a
// page-table entry (spec §3).
func (f Frame) IntoRaw() RawFrame {
	return f.raw
}

// FromRaw is the inverse of IntoRaw: it reclaims ownership of a
// RawFrame (e.g. one being removed from a page-table entry) without
// touching the refcount.
func FromRaw(raw RawFrame) Frame {
	return Frame{raw: raw}
}
