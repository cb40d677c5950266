package bootinfo

import "unsafe"

// unsafeRegionSlice reinterprets the bootloader-provided array of
// count Regions starting at addr as a Go slice, without copying.
func unsafeRegionSlice(addr uintptr, count int) []Region {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*Region)(unsafe.Pointer(addr)), count)
}
