// Package fdops is the minimal contract every file-like kernel object
// satisfies (spec §6 "filesystem contract", §4.E ReadFile/WriteFile),
// adapted from the teacher's fd/fd.go Fdops_i down to what a
// sequential-byte-stream filesystem and the console driver need.
package fdops

import "defs"

// File_i is implemented by anything that can back a File Object:
// the console, and regular files served out of fs.
type File_i interface {
	Read(dst []uint8) (int, defs.Err_t)
	Write(src []uint8) (int, defs.Err_t)
	Close()
}
