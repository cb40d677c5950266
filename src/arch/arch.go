// Package arch provides the ring-0 primitives the rest of the kernel
// is built on: interrupt control, CR3 access, TLB invalidation, and
// the timestamp counter. Each function here is declared without a
// body and defined in arch_amd64.s, the same split the teacher's
// patched runtime hides behind runtime.* hooks but that a freestanding
// binary built with stock Go must spell out itself.
package arch

// EnableInterrupts sets the interrupt flag (STI).
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (CLI) and returns the
// previous value of the flag, suitable for passing to RestoreInterrupts.
func DisableInterrupts() (wasEnabled bool)

// RestoreInterrupts sets the interrupt flag to the value returned by a
// prior DisableInterrupts.
func RestoreInterrupts(wasEnabled bool)

// Halt executes HLT, parking the CPU until the next interrupt.
func Halt()

// LoadCR3 installs a new top-level page table physical address and
// flushes the entire TLB (non-global mappings only, matching a bare
// MOV %cr3 reload).
func LoadCR3(pml4Phys uintptr)

// ReadCR3 returns the physical address of the currently loaded PML4.
func ReadCR3() uintptr

// InvlPg invalidates the TLB entry for a single virtual address.
func InvlPg(virt uintptr)

// Rdtsc reads the CPU timestamp counter.
func Rdtsc() uint64

// Outb writes a byte to an I/O port (used by the out-of-scope console
// to reach port 0xE9).
func Outb(port uint16, val uint8)
