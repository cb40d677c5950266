// Package pgtab is the recursive-mapping primitive shared by the
// physical frame allocator (which needs a temp window to touch freed
// pages) and the virtual memory component (which needs the same
// window plus full map/unmap). Grounded on gopher-os's
// kernel/mem/vmm/{pte,walk,map,vmm_constants_amd64}.go: the last PML4
// slot recursively maps the page-table hierarchy onto itself, so any
// level's entry for a virtual address can be reached by walking
// through fixed "all 1s" index windows.
package pgtab

import (
	"unsafe"

	"arch"
)

// Entry is one page-table entry: upper bits name a RawFrame, low 12
// bits are flags (spec §3 PageTableEntry).
type Entry uintptr

// Flag bits, matching spec §6's page flag encoding exactly.
const (
	FlagPresent Flag = 0x001
	FlagWrite   Flag = 0x002
	FlagUser    Flag = 0x004
)

// Flag is a page-table entry flag bit.
type Flag uintptr

const physAddrMask = uintptr(0x000ffffffffff000)

// HasFlags reports whether every bit in flags is set.
func (e Entry) HasFlags(flags Flag) bool {
	return uintptr(e)&uintptr(flags) == uintptr(flags)
}

// Frame extracts the physical frame address this entry points to.
func (e Entry) Frame() uintptr {
	return uintptr(e) & physAddrMask
}

// SetFrame replaces the physical frame address, preserving flags.
func (e *Entry) SetFrame(phys uintptr) {
	*e = Entry((uintptr(*e) &^ physAddrMask) | (phys & physAddrMask))
}

// SetFlags ORs the given flags into the entry.
func (e *Entry) SetFlags(flags Flag) {
	*e = Entry(uintptr(*e) | uintptr(flags))
}

// ClearFlags clears the given flags from the entry.
func (e *Entry) ClearFlags(flags Flag) {
	*e = Entry(uintptr(*e) &^ uintptr(flags))
}

const (
	levels = 4

	// RecursiveSlot is the PML4 index that points back at the PML4
	// itself (spec §4.B: "the last PML4 slot points to the PML4
	// itself").
	RecursiveSlot = 511

	pml4VirtualAddr = uintptr(0xffffffffffffffff &^ (1<<12 - 1))

	// TempWindow is the one fixed virtual page reserved for the temp
	// mapping window (spec §3 "FreeList head", §4.B "temp_map").
	// Table indices 510,511,511,511 under the recursive scheme,
	// identical in shape to gopher-os's tempMappingAddr.
	TempWindow = uintptr(0xffffff7ffffff000)
)

var levelShifts = [levels]uint{39, 30, 21, 12}

// ptePtrFn resolves an entry's virtual address to a pointer. It is
// overridden by tests so Walk's index arithmetic can be checked
// without dereferencing real page-table memory; the kernel build
// always uses the identity mapping below.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// Walker is invoked once per paging level while walking a virtual
// address; returning false aborts the walk early.
type Walker func(level int, pte *Entry) bool

// Walk descends the active PML4 for virt, invoking fn at each level
// via the recursive-mapping windows.
func Walk(virt uintptr, fn Walker) {
	tableAddr := pml4VirtualAddr
	for level := 0; level < levels; level++ {
		idx := (virt >> levelShifts[level]) & 0x1ff
		entryAddr := tableAddr + idx*8
		pte := (*Entry)(ptePtrFn(entryAddr))
		if !fn(level, pte) {
			return
		}
		tableAddr = entryAddr << 9
	}
}

// CurrentPML4 returns the virtual address at which the active PML4 is
// always visible through the recursive self-map (slot 511 repeated
// four times), independent of any temp-mapping.
func CurrentPML4() uintptr {
	return pml4VirtualAddr
}

// Lookup returns the leaf entry for virt and whether every level down
// to the leaf was present.
func Lookup(virt uintptr) (leaf *Entry, present bool) {
	present = true
	Walk(virt, func(level int, pte *Entry) bool {
		if !pte.HasFlags(FlagPresent) {
			present = false
			return false
		}
		leaf = pte
		return true
	})
	return leaf, present
}

var tempMapped bool

// TempMap installs phys into the temp window and returns its virtual
// address. It panics if the window is already occupied, matching
// spec §4.B's "panicking if the window is already occupied".
func TempMap(phys uintptr) uintptr {
	if tempMapped {
		panic("pgtab: temp window already mapped")
	}
	leaf, _ := Lookup(TempWindow)
	if leaf == nil {
		panic("pgtab: temp window slot missing")
	}
	leaf.SetFrame(phys)
	leaf.SetFlags(FlagPresent | FlagWrite)
	arch.InvlPg(TempWindow)
	tempMapped = true
	return TempWindow
}

// TempUnmap clears the temp window.
func TempUnmap() {
	if !tempMapped {
		panic("pgtab: temp window not mapped")
	}
	leaf, _ := Lookup(TempWindow)
	leaf.ClearFlags(FlagPresent)
	arch.InvlPg(TempWindow)
	tempMapped = false
}

// WithTemp maps phys into the temp window for the duration of fn,
// guaranteeing the window is cleared afterwards even if fn panics.
func WithTemp(phys uintptr, fn func(virt uintptr)) {
	v := TempMap(phys)
	defer TempUnmap()
	fn(v)
}

// PageAllocator supplies a fresh zeroed physical page, used to
// materialize missing inner page-table levels.
type PageAllocator func() (phys uintptr, ok bool)

// MapRaw installs phys at virt with flags, allocating any missing
// inner page-table levels via alloc. It returns alreadyMapped=true
// (and does nothing) if the leaf was already present, matching spec
// §4.B's map() contract; ok=false means alloc ran out of pages while
// building an inner table.
func MapRaw(virt, phys uintptr, flags Flag, alloc PageAllocator) (ok, alreadyMapped bool) {
	ok = true
	Walk(virt, func(level int, pte *Entry) bool {
		if level == levels-1 {
			if pte.HasFlags(FlagPresent) {
				alreadyMapped = true
				return false
			}
			*pte = 0
			pte.SetFrame(phys)
			pte.SetFlags(FlagPresent | flags)
			arch.InvlPg(virt)
			return false
		}
		if !pte.HasFlags(FlagPresent) {
			newTable, got := alloc()
			if !got {
				ok = false
				return false
			}
			*pte = 0
			pte.SetFrame(newTable)
			pte.SetFlags(FlagPresent | FlagWrite | (flags & FlagUser))
			// The freshly installed table becomes visible through the
			// recursive window one level down; zero it there.
			childAddr := (uintptr(unsafe.Pointer(pte)) << 9)
			zeroTable(childAddr)
		}
		return true
	})
	return ok, alreadyMapped
}

func zeroTable(virt uintptr) {
	table := (*[512]Entry)(unsafe.Pointer(virt))
	for i := range table {
		table[i] = 0
	}
}

// UnmapRaw clears the leaf entry for virt, returning the physical
// frame that was mapped there. ok is false if any walk step was
// absent (spec §4.B: "returns NotMapped").
func UnmapRaw(virt uintptr) (phys uintptr, ok bool) {
	Walk(virt, func(level int, pte *Entry) bool {
		if !pte.HasFlags(FlagPresent) {
			ok = false
			return false
		}
		if level == levels-1 {
			phys = pte.Frame()
			pte.ClearFlags(FlagPresent)
			arch.InvlPg(virt)
			ok = true
			return false
		}
		return true
	})
	return phys, ok
}

// ModifyRaw updates the flag bits of the leaf entry for virt,
// preserving its physical address. ok is false if unmapped.
func ModifyRaw(virt uintptr, flags Flag) (ok bool) {
	Walk(virt, func(level int, pte *Entry) bool {
		if !pte.HasFlags(FlagPresent) {
			ok = false
			return false
		}
		if level == levels-1 {
			frame := pte.Frame()
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			arch.InvlPg(virt)
			ok = true
			return false
		}
		return true
	})
	return ok
}

// IsMapped is a non-faulting predicate on a single virtual address.
func IsMapped(virt uintptr) bool {
	_, present := Lookup(virt)
	return present
}

// EachPresent walks every present entry at every level of the active
// PML4, invoking visit once per referenced physical frame (spec
// §4.B's each_phys, used once at boot to seed refcounts).
func EachPresent(visit func(phys uintptr)) {
	eachPresentLevel(pml4VirtualAddr, 0, visit)
}

func eachPresentLevel(tableAddr uintptr, level int, visit func(phys uintptr)) {
	table := (*[512]Entry)(unsafe.Pointer(tableAddr))
	for i, e := range table {
		if !e.HasFlags(FlagPresent) {
			continue
		}
		// Skip the recursive self-mapping slot at the top level so the
		// walk terminates instead of descending forever.
		if level == 0 && i == RecursiveSlot {
			continue
		}
		visit(e.Frame())
		if level < levels-1 {
			entryAddr := tableAddr + uintptr(i)*8
			eachPresentLevel(entryAddr<<9, level+1, visit)
		}
	}
}
