package mem

import (
	"sync"
	"unsafe"

	"pgtab"
)

const entriesPerPage = PGSIZE / 4 // int32 per entry

// refCountTable is the lazily mapped array of atomic counters
// described by spec §3 "RefCount table": one int32 per 4 KiB of
// usable physical RAM, with backing pages mapped on first touch.
// Frames outside [lo, hi) have no entry and all inc/dec are no-ops.
type refCountTable struct {
	mu     sync.Mutex
	base   uintptr // virtual base (bootinfo.Info.RefCountTable)
	end    uintptr // virtual end (bootinfo.Info.RefCountTableEnd)
	mapped map[uintptr]bool
	lo, hi RawFrame
}

func (rt *refCountTable) init(base, end uintptr, lo, hi RawFrame) {
	rt.base, rt.end = base, end
	rt.mapped = make(map[uintptr]bool)
	rt.lo, rt.hi = lo, hi
}

// slot returns a pointer to raw's refcount entry and whether raw
// falls inside a registered region. The backing page for the entry
// is mapped on first access.
func (rt *refCountTable) slot(raw RawFrame) (*int32, bool) {
	if raw < rt.lo || raw >= rt.hi {
		return nil, false
	}
	idx := raw.pageNumber() - rt.lo.pageNumber()
	virt := rt.base + idx*4
	pageVirt := virt &^ uintptr(PGSIZE-1)
	if pageVirt+PGSIZE > rt.end {
		panic("mem: refcount table exhausted its reserved range")
	}

	rt.mu.Lock()
	if !rt.mapped[pageVirt] {
		phys, ok := physmem.AllocBookkeeping()
		if !ok {
			rt.mu.Unlock()
			panic("mem: out of bookkeeping pages for refcount table")
		}
		ok, already := pgtab.MapRaw(pageVirt, phys, pgtab.FlagWrite, physmem.AllocBookkeeping)
		if !ok || already {
			panic("mem: refcount table page mapping failed")
		}
		rt.mapped[pageVirt] = true
	}
	rt.mu.Unlock()

	return (*int32)(unsafe.Pointer(virt)), true
}
