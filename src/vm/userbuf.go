package vm

import (
	"unsafe"

	"arch"
	"defs"
	"pgtab"
)

// UserSpaceLimit is the exclusive upper bound on valid user virtual
// addresses (spec §6: "may not cross into addresses >= 2^47").
const UserSpaceLimit = uintptr(1) << 47

const pageSize = 1 << 12
const pageMask = pageSize - 1

// pageRange returns the containing page-aligned range [lo, hi) that
// spans [uva, uva+length), matching §6's "containing-range for
// unaligned inputs".
func pageRange(uva uintptr, length int) (lo, hi uintptr) {
	lo = uva &^ pageMask
	end := uva + uintptr(length)
	hi = (end + pageMask) &^ pageMask
	return lo, hi
}

// validateRange checks that every page in [uva, uva+length) is
// present with the required write permission (or, if requireAbsent is
// set, that every page is NOT present, for AllocPage-style
// reservation checks). It must be called with as active and a
// critical section held, matching §6's "borrowed slices are tied to
// the critical section that validated them".
func validateRange(as *AddressSpace, uva uintptr, length int, needWrite, requireAbsent bool) defs.Err_t {
	if length < 0 {
		return defs.BadPointer
	}
	if uva+uintptr(length) > UserSpaceLimit || uva+uintptr(length) < uva {
		return defs.BadPointer
	}
	lo, hi := pageRange(uva, length)
	for p := lo; p < hi; p += pageSize {
		leaf, present := pgtab.Lookup(p)
		if requireAbsent {
			if present {
				return defs.BadPointer
			}
			continue
		}
		if !present || !leaf.HasFlags(pgtab.FlagUser) {
			return defs.BadPointer
		}
		if needWrite && !leaf.HasFlags(pgtab.FlagWrite) {
			return defs.BadPointer
		}
	}
	return defs.OK
}

// ValidateAvailable checks that no page in [uva, uva+length) is
// mapped, for operations like AllocPage that must target fresh
// address ranges.
func (as *AddressSpace) ValidateAvailable(uva uintptr, length int) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()
	crit := arch.Begin()
	defer crit.End()
	return validateRange(as, uva, length, false, true)
}

// CopyFromUser validates [uva, uva+len(dst)) for reading and copies it
// into dst, one physical page at a time via the temp window (there is
// no standing direct map of all RAM in this design).
func (as *AddressSpace) CopyFromUser(uva uintptr, dst []byte) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	if err := validateRange(as, uva, len(dst), false, false); err != defs.OK {
		return err
	}
	off := 0
	for off < len(dst) {
		va := uva + uintptr(off)
		leaf, _ := pgtab.Lookup(va)
		pageOff := va & pageMask
		n := pageSize - int(pageOff)
		if rem := len(dst) - off; n > rem {
			n = rem
		}
		pgtab.WithTemp(leaf.Frame(), func(v uintptr) {
			src := unsafe.Slice((*byte)(unsafe.Pointer(v+pageOff)), n)
			copy(dst[off:off+n], src)
		})
		off += n
	}
	return defs.OK
}

// CopyToUser validates [uva, uva+len(src)) for writing and copies src
// into it, one physical page at a time via the temp window.
func (as *AddressSpace) CopyToUser(uva uintptr, src []byte) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	if err := validateRange(as, uva, len(src), true, false); err != defs.OK {
		return err
	}
	off := 0
	for off < len(src) {
		va := uva + uintptr(off)
		leaf, _ := pgtab.Lookup(va)
		pageOff := va & pageMask
		n := pageSize - int(pageOff)
		if rem := len(src) - off; n > rem {
			n = rem
		}
		pgtab.WithTemp(leaf.Frame(), func(v uintptr) {
			dst := unsafe.Slice((*byte)(unsafe.Pointer(v+pageOff)), n)
			copy(dst, src[off:off+n])
		})
		off += n
	}
	return defs.OK
}
