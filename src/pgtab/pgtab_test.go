package pgtab

import (
	"testing"
	"unsafe"
)

// TestWalkIndices mirrors gopher-os's walk_test.go: it overrides
// ptePtrFn so the recursive-mapping index arithmetic can be checked
// without touching real page-table memory.
func TestWalkIndices(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	// 0x8080604400 breaks down to pml4=1, pdpt=2, pd=3, pt=4, offset=1024.
	targetAddr := uintptr(0x8080604400)

	expIndices := [levels][levels]uintptr{
		{511, 511, 511, 511},
		{511, 511, 511, 1},
		{511, 511, 1, 2},
		{511, 1, 2, 3},
	}

	calls := 0
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		if calls >= levels {
			t.Fatalf("unexpected extra call to ptePtrFn")
		}
		for i := 0; i < levels; i++ {
			idx := (entryAddr >> levelShifts[i]) & 0x1ff
			if idx != expIndices[calls][i] {
				t.Errorf("call %d: level %d index = %d, want %d", calls, i, idx, expIndices[calls][i])
			}
		}
		calls++
		return unsafe.Pointer(uintptr(0xf00))
	}

	seen := 0
	Walk(targetAddr, func(level int, pte *Entry) bool {
		seen++
		return seen != levels
	})

	if calls != levels {
		t.Errorf("ptePtrFn called %d times, want %d", calls, levels)
	}
}

func TestEntryFlags(t *testing.T) {
	var e Entry
	e.SetFlags(FlagPresent | FlagWrite)
	if !e.HasFlags(FlagPresent) || !e.HasFlags(FlagWrite) {
		t.Fatalf("expected Present|Write set, got %#x", uintptr(e))
	}
	if e.HasFlags(FlagUser) {
		t.Fatalf("did not expect FlagUser set")
	}
	e.ClearFlags(FlagWrite)
	if e.HasFlags(FlagWrite) {
		t.Fatalf("expected Write cleared")
	}
}

func TestEntrySetFrame(t *testing.T) {
	var e Entry
	e.SetFlags(FlagPresent)
	const phys = uintptr(0x123456000)
	e.SetFrame(phys)
	if got := e.Frame(); got != phys {
		t.Fatalf("Frame() = %#x, want %#x", got, phys)
	}
	if !e.HasFlags(FlagPresent) {
		t.Fatalf("SetFrame must preserve existing flags")
	}
}
