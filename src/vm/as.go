// Package vm is virtual memory (spec component B): recursive page
// tables, map/unmap/modify, and per-task address space contexts built
// on the primitives in pgtab. Grounded on the teacher's vm/as.go
// (Vm_t locking conventions, Lock_pmap/Unlock_pmap naming) and
// crabos's mem/pgtbl.rs AddressSpace (PML4 Frame ownership, kernel-half
// copy, recursive slot install). Unlike the teacher, there is no
// copy-on-write or demand paging here: every map is eager and every
// unmap drops exactly the Frame it held.
package vm

import (
	"sync"
	"unsafe"

	"arch"
	"defs"
	"mem"
	"pgtab"
)

// UserPageFlags is the single externally defined permission bit (spec
// §6): it translates to PRESENT | USER [| WRITE].
type UserPageFlags uint8

const UserWrite UserPageFlags = 1 << 0

func (u UserPageFlags) internal() pgtab.Flag {
	f := pgtab.FlagPresent | pgtab.FlagUser
	if u&UserWrite != 0 {
		f |= pgtab.FlagWrite
	}
	return f
}

// AddressSpace is a PageCtx (spec §3): a PML4 Frame and the tree it
// implies. The mutex serializes map/unmap/modify against each other;
// it does not protect against a second hardware thread, since the
// runtime is single-hardware-thread cooperative (spec §5).
type AddressSpace struct {
	mu   sync.Mutex
	pml4 mem.Frame
}

// current tracks the physical address of the PML4 loaded in CR3.
// map/unmap/modify/each_phys walk via the recursive self-map, which
// only reflects whatever tree is currently wired into CR3, so those
// operations are only valid against the active address space.
var current uintptr

// New allocates a fresh AddressSpace: a new PML4 Frame, with the
// kernel half (slots 256..511) copied from whatever is the currently
// active PML4 and a recursive self-map installed in slot 511 (spec
// §4.B "AddressSpace creation").
func New() (*AddressSpace, defs.Err_t) {
	if current == 0 {
		panic("vm: New called before any address space is active")
	}
	frame, err := mem.Physmem().Alloc()
	if err != defs.OK {
		return nil, err
	}
	phys := uintptr(frame.Raw())

	crit := arch.Begin()
	pgtab.WithTemp(phys, func(newVirt uintptr) {
		zeroTable(newVirt)
		copyKernelHalf(pgtab.CurrentPML4(), newVirt)
		installRecursive(newVirt, phys)
	})
	crit.End()

	return &AddressSpace{pml4: frame}, defs.OK
}

const entriesPerTable = 512
const kernelHalfStart = 256

func copyKernelHalf(srcVirt, dstVirt uintptr) {
	src := (*[entriesPerTable]pgtab.Entry)(ptrAt(srcVirt))
	dst := (*[entriesPerTable]pgtab.Entry)(ptrAt(dstVirt))
	for i := kernelHalfStart; i < entriesPerTable; i++ {
		dst[i] = src[i]
	}
}

func zeroTable(virt uintptr) {
	tbl := (*[entriesPerTable]pgtab.Entry)(ptrAt(virt))
	for i := range tbl {
		tbl[i] = 0
	}
}

func installRecursive(tableVirt, selfPhys uintptr) {
	tbl := (*[entriesPerTable]pgtab.Entry)(ptrAt(tableVirt))
	var e pgtab.Entry
	e.SetFrame(selfPhys)
	e.SetFlags(pgtab.FlagPresent | pgtab.FlagWrite)
	tbl[pgtab.RecursiveSlot] = e
}

// Switch loads this address space's PML4 into CR3 and releases the
// reference held by whichever address space was previously active
// (spec §4.B "AddressSpace switch").
func (as *AddressSpace) Switch() {
	as.mu.Lock()
	defer as.mu.Unlock()

	next := as.pml4.Clone()
	phys := uintptr(next.Raw())

	crit := arch.Begin()
	arch.LoadCR3(phys)
	prev := current
	current = phys
	crit.End()

	if prev != 0 {
		old := mem.FromRaw(mem.RawFrame(prev))
		old.Drop()
	}
}

// Drop releases this AddressSpace's own reference to its PML4 Frame.
// If as is currently loaded in CR3, the CR3 reference (a separate
// clone made by Switch) keeps the tree alive until something else is
// switched in; Drop does not itself touch CR3.
func (as *AddressSpace) Drop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.pml4.Drop()
}

func (as *AddressSpace) assertActive() {
	if uintptr(as.pml4.Raw()) != current {
		panic("vm: operation requires address space to be active")
	}
}

// Map installs frame at virt with the given permissions, consuming
// ownership of frame. It returns AlreadyMapped without consuming frame
// if virt already has a present leaf.
func (as *AddressSpace) Map(virt uintptr, frame mem.Frame, flags UserPageFlags) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	if pgtab.IsMapped(virt) {
		return defs.AlreadyMapped
	}
	phys := frame.IntoRaw()
	ok, alreadyMapped := pgtab.MapRaw(virt, uintptr(phys), flags.internal(), allocTable)
	if alreadyMapped || !ok {
		fr := mem.FromRaw(phys)
		fr.Drop()
	}
	if alreadyMapped {
		return defs.AlreadyMapped
	}
	if !ok {
		return defs.MemoryExhausted
	}
	return defs.OK
}

// MapKernel installs frame at virt for kernel-only access (no USER
// bit), used by the kernel heap and other kernel-private mappings
// that must never be reachable from ring 3.
func (as *AddressSpace) MapKernel(virt uintptr, frame mem.Frame, writable bool) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	flags := pgtab.FlagPresent
	if writable {
		flags |= pgtab.FlagWrite
	}
	if pgtab.IsMapped(virt) {
		return defs.AlreadyMapped
	}
	phys := frame.IntoRaw()
	ok, alreadyMapped := pgtab.MapRaw(virt, uintptr(phys), flags, allocTable)
	if alreadyMapped || !ok {
		fr := mem.FromRaw(phys)
		fr.Drop()
	}
	if alreadyMapped {
		return defs.AlreadyMapped
	}
	if !ok {
		return defs.MemoryExhausted
	}
	return defs.OK
}

// CurrentAddressSpace returns a borrowed handle to whichever address
// space is presently loaded in CR3, for kernel-internal callers (like
// kheap) that need to extend the shared kernel half but do not own an
// *AddressSpace value of their own. The returned value must not be
// Switched to or have its underlying Frame dropped.
func CurrentAddressSpace() *AddressSpace {
	if current == 0 {
		panic("vm: no address space active yet")
	}
	return &AddressSpace{pml4: mem.FromRaw(mem.RawFrame(current))}
}

// AdoptCurrent returns a newly owned AddressSpace referencing
// whichever PML4 is presently active, bumping its refcount once. This
// gives a caller a normal, droppable *AddressSpace distinct from
// CurrentAddressSpace's borrowed handle, used to wrap the
// bootloader-installed address space in an Object the first task can
// own like any other.
func AdoptCurrent() *AddressSpace {
	if current == 0 {
		panic("vm: no address space active yet")
	}
	return &AddressSpace{pml4: mem.FromRaw(mem.RawFrame(current)).Clone()}
}

// Unmap clears the leaf at virt and drops the Frame it referenced,
// returning NotMapped if no mapping was present.
func (as *AddressSpace) Unmap(virt uintptr) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	phys, ok := pgtab.UnmapRaw(virt)
	if !ok {
		return defs.NotMapped
	}
	arch.InvlPg(virt)
	fr := mem.FromRaw(mem.RawFrame(phys))
	fr.Drop()
	return defs.OK
}

// Modify updates the flag bits of the leaf at virt, leaving the
// physical frame untouched. It returns NotMapped if no leaf is
// present.
func (as *AddressSpace) Modify(virt uintptr, flags UserPageFlags) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()

	if !pgtab.ModifyRaw(virt, flags.internal()) {
		return defs.NotMapped
	}
	arch.InvlPg(virt)
	return defs.OK
}

// IsMapped reports whether virt has a present leaf, without faulting.
func (as *AddressSpace) IsMapped(virt uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()
	return pgtab.IsMapped(virt)
}

// EachPhys visits every physical frame referenced by a present entry
// in this address space, once per reference. Used at boot to seed
// refcounts (spec §4.B).
func (as *AddressSpace) EachPhys(visit func(mem.RawFrame)) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.assertActive()

	crit := arch.Begin()
	defer crit.End()
	pgtab.EachPresent(func(phys uintptr) {
		visit(mem.RawFrame(phys))
	})
}

// allocTable services pgtab's need for fresh inner-table frames during
// Map; ownership of the allocated frame transfers to the page table
// entry, matching Frame.IntoRaw semantics.
func allocTable() (uintptr, bool) {
	f, err := mem.Physmem().Alloc()
	if err != defs.OK {
		return 0, false
	}
	return uintptr(f.IntoRaw()), true
}

// SetActive records phys as the PML4 loaded in CR3 without touching
// CR3 itself, used once at boot to describe the bootloader-installed
// address space before any AddressSpace value exists for it.
func SetActive(phys uintptr) {
	current = phys
}

func ptrAt(virt uintptr) unsafe.Pointer {
	return unsafe.Pointer(virt)
}
