package defs

import "fmt"

/// Err_t is a kernel error code. The zero value means success ("OK").
/// Err_t values never escape the kernel as Go's error interface: they
/// cross the syscall boundary packed into a single register (see
/// EncodeErr), so they must stay a plain integer with no allocation on
/// the error path.
type Err_t int64

/// OK is the zero Err_t, returned by syscalls that completed without
/// error and produce no other result value.
const OK Err_t = 0

// The low seven bits of a non-zero Err_t are carried, unmodified, into
// bit 63 | code of the syscall return register (§4.E, §8 property 7).
const (
	MemoryExhausted Err_t = iota + 1
	AlreadyMapped
	NotMapped
	BadPointer
	BadHandle
	WrongObjectKind
	IllegalValue
	BadSyscall
	IoError
	NoFile
)

var errNames = map[Err_t]string{
	MemoryExhausted: "MemoryExhausted",
	AlreadyMapped:   "AlreadyMapped",
	NotMapped:       "NotMapped",
	BadPointer:      "BadPointer",
	BadHandle:       "BadHandle",
	WrongObjectKind: "WrongObjectKind",
	IllegalValue:    "IllegalValue",
	BadSyscall:      "BadSyscall",
	IoError:         "IoError",
	NoFile:          "NoFile",
}

func (e Err_t) String() string {
	if e == OK {
		return "OK"
	}
	if name, ok := errNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Err_t(%d)", int64(e))
}

// errBit is bit 63 of the syscall return register: when set, the
// remaining bits are an Err_t rather than a successful result.
const errBit = uint64(1) << 63

/// EncodeResult packs a successful syscall result into the RAX
/// convention described by §4.E: bit 63 clear, result in the low 63
/// bits. val must be <= 2^63-1.
func EncodeResult(val uint64) uint64 {
	if val&errBit != 0 {
		panic("result does not fit in 63 bits")
	}
	return val
}

/// EncodeErr packs a non-OK Err_t into the RAX error convention: bit 63
/// set, the Err_t value in the low bits.
func EncodeErr(e Err_t) uint64 {
	if e == OK {
		panic("EncodeErr called with OK")
	}
	return errBit | uint64(e)
}

/// Decode splits a raw RAX value back into a successful result or an
/// Err_t, the inverse of EncodeResult/EncodeErr.
func Decode(raw uint64) (val uint64, err Err_t) {
	if raw&errBit != 0 {
		return 0, Err_t(raw &^ errBit)
	}
	return raw, OK
}

/// Tid_t identifies a Task, scoped to the lifetime of the scheduler
/// (monotonically allocated, never reused while the kernel is up).
type Tid_t uint64
