// Package earlyinit provides a singleton cell for kernel-global state
// that must be initialized exactly once at boot, before which access
// is a programming error. Ported from crabos's util/early_init.rs,
// whose EarlyInit<T> this generalizes onto Go generics.
package earlyinit

import "sync/atomic"

// Cell holds a value of type T that is set once, by Init, and read
// many times thereafter by Get. Reading before Init, or calling Init
// twice, panics: both are broken boot-sequencing bugs, not conditions
// to recover from.
type Cell[T any] struct {
	initialized atomic.Bool
	value       T
}

// Init sets the cell's value. It panics if called more than once.
func (c *Cell[T]) Init(v T) {
	if !c.initialized.CompareAndSwap(false, true) {
		panic("earlyinit: double initialization")
	}
	c.value = v
}

// Get returns the cell's value. It panics if Init has not run yet.
func (c *Cell[T]) Get() T {
	if !c.initialized.Load() {
		panic("earlyinit: access before initialization")
	}
	return c.value
}

// Ready reports whether Init has already run, without panicking.
func (c *Cell[T]) Ready() bool {
	return c.initialized.Load()
}
