// Package kheap is the kernel heap (spec component C): a fixed set of
// power-of-two size classes, each backed by pages pulled from a
// watermark region of kernel virtual address space. Grounded on
// crabos's mem/kalloc.rs (SizeClass, FreeObject intrusive free list,
// Allocator with 8 classes 16..2048) and mem/kvirt.rs (WatermarkAllocator,
// map-on-demand). Unlike a general-purpose allocator there is no
// splitting or coalescing across size classes: an object returns to
// exactly the class it was allocated from.
package kheap

import (
	"sync"
	"unsafe"

	"defs"
	"klog"
	"mem"
	"vm"
)

const pageSize = 1 << 12

// KernelHeapBase is the fixed kernel-virtual region the heap grows
// into. It must lie within the shared kernel half (PML4 slots
// 256..510) and must be pre-populated by Init before the first
// non-boot AddressSpace is created, so that every address space's
// copy of the kernel half shares the same backing page tables.
const KernelHeapBase = uintptr(0xfffffe8000000000)

// classSizes runs 16 B to 4096 B by powers of two (spec §4.C; one
// class further than crabos's kalloc.rs, whose top class is 2048, to
// cover a full page-sized allocation).
var classSizes = [9]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

type sizeClass struct {
	mu   sync.Mutex
	size uintptr
	free uintptr
}

var classes [9]sizeClass

var kv = kvirtState{next: KernelHeapBase}

func init() {
	for i, s := range classSizes {
		classes[i].size = s
	}
}

// Init reserves the first page of the heap region so its top-level
// page-table slot exists before other address spaces are created.
// Must be called once, early in boot, after the boot address space is
// active.
func Init() {
	if _, err := Alloc(1, 1); err != defs.OK {
		klog.Panic("kheap: Init failed: %v", err)
	}
}

func classFor(size uintptr) (*sizeClass, defs.Err_t) {
	for i := range classes {
		if classes[i].size >= size {
			return &classes[i], defs.OK
		}
	}
	return nil, defs.IllegalValue
}

// Alloc returns a zeroed block satisfying size and alignment align,
// drawn from the first size class whose size is >= max(size, align)
// (spec §4.C). Pass align=1 for no particular alignment requirement
// beyond the class's own (every class size is a power of two, so
// objects are always aligned to their own size).
func Alloc(size, align uintptr) (uintptr, defs.Err_t) {
	need := size
	if align > need {
		need = align
	}
	sc, err := classFor(need)
	if err != defs.OK {
		return 0, err
	}
	return sc.alloc()
}

// Free returns ptr, previously returned by Alloc(size), to its size
// class's free list.
func Free(size, ptr uintptr) {
	sc, err := classFor(size)
	if err != defs.OK {
		panic("kheap: Free with no matching size class")
	}
	sc.release(ptr)
}

func (sc *sizeClass) pushFree(p uintptr) {
	*(*uintptr)(unsafe.Pointer(p)) = sc.free
	sc.free = p
}

func (sc *sizeClass) popFree() uintptr {
	p := sc.free
	sc.free = *(*uintptr)(unsafe.Pointer(p))
	return p
}

func (sc *sizeClass) allocUninitialized() (uintptr, defs.Err_t) {
	if sc.free != 0 {
		return sc.popFree(), defs.OK
	}
	page, err := kv.allocPage()
	if err != defs.OK {
		return 0, err
	}
	for off := uintptr(0); off < pageSize; off += sc.size {
		sc.pushFree(page + off)
	}
	return sc.popFree(), defs.OK
}

func (sc *sizeClass) alloc() (uintptr, defs.Err_t) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p, err := sc.allocUninitialized()
	if err != defs.OK {
		return 0, err
	}
	zero := unsafe.Slice((*byte)(unsafe.Pointer(p)), sc.size)
	for i := range zero {
		zero[i] = 0
	}
	return p, defs.OK
}

func (sc *sizeClass) release(p uintptr) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.pushFree(p)
}

// kvirtState is the watermark allocator backing every size class: it
// only ever grows, mapping one fresh physical frame per page of
// virtual address space consumed.
type kvirtState struct {
	mu   sync.Mutex
	next uintptr
}

func (k *kvirtState) allocPage() (uintptr, defs.Err_t) {
	k.mu.Lock()
	defer k.mu.Unlock()

	virt := k.next
	frame, err := mem.Physmem().Alloc()
	if err != defs.OK {
		return 0, err
	}
	as := vm.CurrentAddressSpace()
	if mapErr := as.MapKernel(virt, frame, true); mapErr != defs.OK {
		return 0, mapErr
	}
	k.next += pageSize
	return virt, defs.OK
}
