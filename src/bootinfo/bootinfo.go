// Package bootinfo describes the handoff contract between the
// bootloader and the kernel (spec §6): a BIOS-style memory region
// array plus the low/high memory boundary, and the linker-provided
// symbols the allocator and virtual memory subsystems anchor on.
// This is the kernel's only configuration surface; everything else is
// compile-time constants, matching the teacher's conventions.
package bootinfo

// RegionKind classifies one BIOS memory map entry.
type RegionKind uint32

// Usable is the only region kind the physical allocator registers.
const Usable RegionKind = 1

// Region is one entry of the firmware-reported memory map, laid out
// to match the BIOS int 0x15, e820 record the bootloader copies in.
type Region struct {
	Base     uint64
	Length   uint64
	Kind     RegionKind
	ExAttrs  uint32
}

// MaxRegions bounds how many usable regions the physical allocator
// will register (spec §4.A: "up to a fixed cap").
const MaxRegions = 8

// HighMemoryBoundary is the address below which memory is reserved
// for real-mode/BIOS structures and never handed to the frame
// allocator; regions are clamped to start no lower than this.
const HighMemoryBoundary uint64 = 0x100000

// Info is the fully parsed bootloader handoff: the memory map and the
// linker-exported symbols the kernel needs before it can build its own
// data structures.
type Info struct {
	Regions []Region

	// KernelEnd is the linker symbol _end: the first byte past the
	// kernel image. The kernel heap does not grow from here: it uses
	// its own fixed base, kheap.KernelHeapBase.
	KernelEnd uintptr

	// RefCountTable / RefCountTableEnd are _phys_rc / _phys_rc_end: the
	// virtual range reserved for the lazily-mapped refcount array
	// (§3 "RefCount table").
	RefCountTable    uintptr
	RefCountTableEnd uintptr

	// TempPage is temp_page: the one fixed virtual page used as the
	// temp-mapping window (§4.B).
	TempPage uintptr
}

// Parse builds an Info from the raw pointer/count pair the bootloader
// leaves in registers, and the linker symbols. addr points at an array
// of count Regions.
func Parse(addr uintptr, count int, kernelEnd, rcTable, rcTableEnd, tempPage uintptr) Info {
	regions := unsafeRegionSlice(addr, count)

	clamped := make([]Region, 0, MaxRegions)
	for _, r := range regions {
		if len(clamped) == MaxRegions {
			break
		}
		if r.Kind != Usable {
			continue
		}
		base, length := r.Base, r.Length
		if base+length <= HighMemoryBoundary {
			continue
		}
		if base < HighMemoryBoundary {
			length -= HighMemoryBoundary - base
			base = HighMemoryBoundary
		}
		if length == 0 {
			continue
		}
		clamped = append(clamped, Region{Base: base, Length: length, Kind: Usable})
	}

	return Info{
		Regions:          clamped,
		KernelEnd:        kernelEnd,
		RefCountTable:    rcTable,
		RefCountTableEnd: rcTableEnd,
		TempPage:         tempPage,
	}
}
