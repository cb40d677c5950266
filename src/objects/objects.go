// Package objects is the per-task Handle -> Object table (spec
// component E). Grounded on crabos's object.rs (Object/ObjectKind/
// ObjectRef/Handle, monotonic per-task handle allocation) and, for the
// refcounted-object shape, crabos's sync/arc.rs (Arc<T>: clone bumps,
// drop decrements, last drop tears down).
package objects

import (
	"sync"
	"sync/atomic"

	"defs"
)

// Kind tags what an Object's payload actually is.
type Kind int

const (
	KindPageCtx Kind = iota
	KindFile
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindPageCtx:
		return "PageCtx"
	case KindFile:
		return "File"
	case KindTask:
		return "Task"
	default:
		return "Unknown"
	}
}

// Object is a reference-counted kernel entity (spec §3). refs starts
// at 1 for the reference returned by whatever created it; clone (and
// Ref) bumps, drop decrements and, on the 1->0 transition, invokes
// teardown.
type Object struct {
	kind     Kind
	refs     int32
	payload  interface{}
	teardown func(interface{})
}

// New wraps payload in a freshly-refcounted Object of the given kind.
// teardown, if non-nil, runs once when the last reference is dropped.
func New(kind Kind, payload interface{}, teardown func(interface{})) *Object {
	return &Object{kind: kind, refs: 1, payload: payload, teardown: teardown}
}

func (o *Object) Kind() Kind { return o.kind }

func (o *Object) Payload() interface{} { return o.payload }

// Ref bumps o's refcount and returns o itself, for moving a reference
// into a different Table than the one that currently holds it (e.g.
// handing a task's address space to a newly spawned child task).
func (o *Object) Ref() *Object {
	return o.clone()
}

func (o *Object) clone() *Object {
	if atomic.AddInt32(&o.refs, 1) <= 1 {
		panic("objects: clone of a dead object")
	}
	return o
}

func (o *Object) drop() {
	c := atomic.AddInt32(&o.refs, -1)
	if c < 0 {
		panic("objects: refcount underflow")
	}
	if c == 0 && o.teardown != nil {
		o.teardown(o.payload)
	}
}

// Handle is a non-zero identifier scoped to one Task (spec §3).
type Handle uint64

// Table is a per-task Handle -> Object mapping (spec §4.E "Object
// table"). Handles are allocated by taking the highest handle ever
// issued and adding one, so allocation is strictly monotonic even
// across releases.
type Table struct {
	mu      sync.Mutex
	entries map[Handle]*Object
	max     Handle
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]*Object)}
}

// Insert binds a fresh handle to obj, taking ownership of the
// caller's reference to it.
func (tbl *Table) Insert(obj *Object) Handle {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.max++
	h := tbl.max
	tbl.entries[h] = obj
	return h
}

// Get looks up the Object bound to h without affecting its refcount.
func (tbl *Table) Get(h Handle) (*Object, bool) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	o, ok := tbl.entries[h]
	return o, ok
}

// Clone allocates a new handle referring to the same Object as h,
// bumping its refcount (spec §4.E "clone_handle").
func (tbl *Table) Clone(h Handle) (Handle, defs.Err_t) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	o, ok := tbl.entries[h]
	if !ok {
		return 0, defs.BadHandle
	}
	tbl.max++
	nh := tbl.max
	tbl.entries[nh] = o.clone()
	return nh, defs.OK
}

// Release removes h from the table and drops the reference it held
// (spec §4.E "release_handle").
func (tbl *Table) Release(h Handle) defs.Err_t {
	tbl.mu.Lock()
	o, ok := tbl.entries[h]
	if ok {
		delete(tbl.entries, h)
	}
	tbl.mu.Unlock()
	if !ok {
		return defs.BadHandle
	}
	o.drop()
	return defs.OK
}

// Teardown drops every handle remaining in the table, used when a
// task exits (spec §4.E "Task teardown drops the entire table").
func (tbl *Table) Teardown() {
	tbl.mu.Lock()
	all := tbl.entries
	tbl.entries = nil
	tbl.mu.Unlock()
	for _, o := range all {
		o.drop()
	}
}

// Len reports the number of live handles, for tests and diagnostics.
func (tbl *Table) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return len(tbl.entries)
}
