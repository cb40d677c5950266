// Package mem is the physical frame allocator (spec component A): a
// reference-counted pool of 4 KiB RAM frames, bump-allocated from the
// BIOS-reported usable regions with an intrusive free list for
// reclaimed pages. Grounded on the teacher's mem/mem.go (Physmem_t,
// per-region cursors, Refup/Refdown naming) and crabos's
// mem/phys.rs (RawPhys/Phys, region clamp, free list via temp-map).
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"arch"
	"bootinfo"
	"defs"
	"earlyinit"
	"oommsg"
	"pgtab"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single frame in bytes.
const PGSIZE = 1 << PGSHIFT

// RawFrame is an opaque, 4 KiB-aligned physical address. It carries
// no ownership (spec §3).
type RawFrame uintptr

func (r RawFrame) pageNumber() uintptr { return uintptr(r) >> PGSHIFT }

type region struct {
	cursor uintptr // next untouched address in the region; never decreases
	end    uintptr
}

// Physmem_t is the kernel's singleton physical allocator.
type Physmem_t struct {
	mu       sync.Mutex
	regions  []region
	freeHead RawFrame // 0 means the free list is empty

	refs refCountTable

	startFrame RawFrame // lowest frame covered by any registered region
	endFrame   RawFrame // one past the highest frame covered
}

// physmem is the one process-wide physical allocator instance, built
// up by Phys_init before anything else may touch it.
var physmem = &Physmem_t{}

// physmemCell gates external access to physmem behind an explicit
// boot-ordering check (spec §9 "Global mutable state"): Phys_init
// marks it ready once regions are registered, and any call to
// Physmem() before that is a boot-sequencing bug, not a silently
// empty allocator.
var physmemCell earlyinit.Cell[*Physmem_t]

// Physmem returns the process-wide physical allocator singleton. It
// panics if called before Phys_init has run.
func Physmem() *Physmem_t {
	return physmemCell.Get()
}

// refcountsEnabled gates refUp/refDown during the boot window
// described by spec §4.A/§9 "Refcount enablement gap": before
// EnableRefCounts runs, allocation is tracked only by bump cursors
// and inc/dec are no-ops.
var refcountsEnabled atomic.Bool

// Phys_init registers the BIOS-reported usable regions (already
// clamped and capped by bootinfo.Parse) and prepares the lazily
// mapped refcount table described by bootinfo.Info.
func Phys_init(info bootinfo.Info) {
	phys := physmem
	phys.regions = phys.regions[:0]
	var lo, hi uintptr
	total := uintptr(0)
	for i, r := range info.Regions {
		phys.regions = append(phys.regions, region{cursor: uintptr(r.Base), end: uintptr(r.Base + r.Length)})
		total += uintptr(r.Length)
		if i == 0 || uintptr(r.Base) < lo {
			lo = uintptr(r.Base)
		}
		if end := uintptr(r.Base + r.Length); end > hi {
			hi = end
		}
	}
	phys.startFrame = RawFrame(lo)
	phys.endFrame = RawFrame(hi)
	phys.refs.init(info.RefCountTable, info.RefCountTableEnd, phys.startFrame, phys.endFrame)

	fmt.Printf("mem: registered %d region(s), %d pages total\n", len(phys.regions), total/PGSIZE)

	physmemCell.Init(phys)
}

// EnableRefCounts reconciles the refcount table with every frame
// currently mapped by walking the active PML4 once (spec §4.A
// "Ref counting" / §9 "Refcount enablement gap"). It must run with
// interrupts disabled and before any new mapping can occur.
func EnableRefCounts(extraPML4 RawFrame) {
	crit := arch.Begin()
	defer crit.End()
	refcountsEnabled.Store(true)
	pgtab.EachPresent(func(phys uintptr) {
		physmem.refUp(RawFrame(phys))
	})
	physmem.refUp(extraPML4)
}

// allocBumpRaw hands out a page tracked only by the bump cursors,
// used for bookkeeping allocations (refcount table pages, inner page
// tables) that must not recurse into the counted allocator.
func (phys *Physmem_t) allocBumpRaw() (RawFrame, bool) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return phys.bumpLocked()
}

func (phys *Physmem_t) bumpLocked() (RawFrame, bool) {
	for i := range phys.regions {
		r := &phys.regions[i]
		if r.cursor < r.end {
			raw := RawFrame(r.cursor)
			r.cursor += PGSIZE
			return raw, true
		}
	}
	return 0, false
}

// allocRaw satisfies an allocation from the free list first, falling
// back to the bump cursors, as described by spec §4.A "Bump phase".
func (phys *Physmem_t) allocRaw() (RawFrame, bool) {
	phys.mu.Lock()
	if phys.freeHead != 0 {
		head := phys.freeHead
		var next uint64
		crit := arch.Begin()
		pgtab.WithTemp(uintptr(head), func(v uintptr) {
			next = *(*uint64)(unsafe.Pointer(v))
		})
		crit.End()
		phys.freeHead = RawFrame(next)
		phys.mu.Unlock()
		return head, true
	}
	raw, ok := phys.bumpLocked()
	phys.mu.Unlock()
	return raw, ok
}

// pushFree returns raw to the intrusive free list, storing the prior
// head in the frame's first 8 bytes via the temp window.
func (phys *Physmem_t) pushFree(raw RawFrame) {
	phys.mu.Lock()
	prior := phys.freeHead
	crit := arch.Begin()
	pgtab.WithTemp(uintptr(raw), func(v uintptr) {
		*(*uint64)(unsafe.Pointer(v)) = uint64(prior)
	})
	crit.End()
	phys.freeHead = raw
	phys.mu.Unlock()
}

func zeroPage(virt uintptr) {
	page := (*[PGSIZE]byte)(unsafe.Pointer(virt))
	for i := range page {
		page[i] = 0
	}
}

// Alloc hands out a zero-filled Frame, or MemoryExhausted when both
// the free list is empty and every region's cursor is at its end
// (spec §4.A "Guarantees").
func (phys *Physmem_t) Alloc() (Frame, defs.Err_t) {
	raw, ok := phys.allocRaw()
	if !ok {
		notifyOOM(1)
		return Frame{}, defs.MemoryExhausted
	}
	crit := arch.Begin()
	pgtab.WithTemp(uintptr(raw), func(v uintptr) { zeroPage(v) })
	crit.End()
	return newFrame(raw), defs.OK
}

// AllocBookkeeping hands out a zero-filled raw frame outside the
// refcounted pool, for use as inner page-table levels or refcount
// table backing pages. It satisfies pgtab.PageAllocator.
func (phys *Physmem_t) AllocBookkeeping() (uintptr, bool) {
	raw, ok := phys.allocBumpRaw()
	if !ok {
		return 0, false
	}
	crit := arch.Begin()
	pgtab.WithTemp(uintptr(raw), func(v uintptr) { zeroPage(v) })
	crit.End()
	return uintptr(raw), true
}

func (phys *Physmem_t) refUp(raw RawFrame) {
	if !refcountsEnabled.Load() {
		return
	}
	slot, managed := phys.refs.slot(raw)
	if !managed {
		return
	}
	c := atomic.AddInt32(slot, 1)
	if c <= 0 {
		panic("mem: refcount overflow")
	}
}

// refDown decrements raw's refcount and reports whether it reached
// zero (the frame should be freed). Unmanaged frames are always
// reported as not-freeable.
func (phys *Physmem_t) refDown(raw RawFrame) bool {
	if !refcountsEnabled.Load() {
		return false
	}
	slot, managed := phys.refs.slot(raw)
	if !managed {
		return false
	}
	c := atomic.AddInt32(slot, -1)
	if c < 0 {
		panic("mem: refcount underflow")
	}
	return c == 0
}

// Refcnt returns the current reference count of raw, or 0 if raw is
// outside any managed region.
func (phys *Physmem_t) Refcnt(raw RawFrame) int {
	slot, managed := phys.refs.slot(raw)
	if !managed {
		return 0
	}
	return int(atomic.LoadInt32(slot))
}

// notifyOOM posts to oommsg.OomCh without blocking: this kernel runs
// as a single cooperative hardware thread (spec §5), so a blocking
// send with no dedicated reclaim task draining the channel would wedge
// the whole machine the first time allocation failed with nobody
// listening. A non-blocking best-effort post still lets an operator
// tool that happens to be reading the channel learn about the
// exhaustion, without making the allocator depend on one existing.
func notifyOOM(need int) {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: need}:
	default:
	}
}
