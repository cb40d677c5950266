package bootinfo

import (
	"testing"
	"unsafe"
)

func TestParseClampsAndFilters(t *testing.T) {
	regions := []Region{
		{Base: 0, Length: 0x100000, Kind: Usable},                  // entirely below boundary, dropped
		{Base: 0x80000, Length: 0x100000, Kind: Usable},             // straddles boundary, clamped
		{Base: 0x200000, Length: 0x100000, Kind: 2},                 // not usable, dropped
		{Base: 0x300000, Length: 0x100000, Kind: Usable},
	}

	info := Parse(uintptr(unsafe.Pointer(&regions[0])), len(regions), 0, 0x1000, 0x2000, 0x3000)

	if len(info.Regions) != 2 {
		t.Fatalf("expected 2 usable regions, got %d: %+v", len(info.Regions), info.Regions)
	}
	if info.Regions[0].Base != HighMemoryBoundary {
		t.Errorf("expected straddling region clamped to %#x, got %#x", HighMemoryBoundary, info.Regions[0].Base)
	}
	if got := info.Regions[0].Base + info.Regions[0].Length; got != 0x180000 {
		t.Errorf("clamped region end = %#x, want %#x", got, 0x180000)
	}
	if info.Regions[1].Base != 0x300000 {
		t.Errorf("expected second region at 0x300000, got %#x", info.Regions[1].Base)
	}
}

func TestParseCapsRegionCount(t *testing.T) {
	var regions []Region
	for i := 0; i < MaxRegions+5; i++ {
		base := HighMemoryBoundary + uint64(i)*0x200000
		regions = append(regions, Region{Base: base, Length: 0x100000, Kind: Usable})
	}

	info := Parse(uintptr(unsafe.Pointer(&regions[0])), len(regions), 0, 0, 0, 0)
	if len(info.Regions) != MaxRegions {
		t.Fatalf("expected cap of %d regions, got %d", MaxRegions, len(info.Regions))
	}
}

func TestParseNoRegions(t *testing.T) {
	info := Parse(0, 0, 0x1000, 0x2000, 0x3000, 0x4000)
	if len(info.Regions) != 0 {
		t.Fatalf("expected no regions, got %d", len(info.Regions))
	}
	if info.KernelEnd != 0x1000 || info.TempPage != 0x4000 {
		t.Fatalf("linker symbols not threaded through: %+v", info)
	}
}
