// Package task is the cooperative task runtime (spec component D): a
// per-task state machine (Wake/SyscallEntry/User/Sleep) driven by a
// round-robin scheduler that runs inline in the interrupt-return path.
// Grounded on the teacher's proc.go scheduling vocabulary (round-robin
// next-after-previous selection) and crabos's sync/async_mutex.rs
// Waker pattern (a Waker is just enough to flip one task Sleep->Wake).
package task

import (
	"sync"
	"sync/atomic"

	"accnt"
	"defs"
	"earlyinit"
	"objects"
)

// Frame is the subset of the trap frame the scheduler and syscalls
// touch: the syscall ABI registers (spec §4.E) plus what is needed to
// resume user execution.
type Frame struct {
	RAX, RDI, RSI, RDX, RCX uint64
	RIP, RSP, RFLAGS        uint64
}

// PollResult is a continuation's progress report, matching Rust's
// Future::poll: Pending means "call me again later", Ready means the
// continuation ran to completion. Tasks are expected to loop forever,
// so a continuation reaching Ready is a kernel bug, not a normal exit.
type PollResult int

const (
	Pending PollResult = iota
	Ready
)

// Continuation is the kernel-side computation polled whenever a
// task's state is Wake or SyscallEntry.
type Continuation func(t *Task) PollResult

// Switcher is the address-space handle a Task owns; vm.AddressSpace
// satisfies it. Kept as an interface so the scheduler can be tested
// without touching real page tables.
type Switcher interface {
	Switch()
}

type stateKind int

const (
	stateWake stateKind = iota
	stateSyscallEntry
	stateUser
	stateSleep
)

// Task is one schedulable unit of work: an address space, a handle
// table, and the suspensible continuation driving its kernel-side
// work (spec §3 "Task").
type Task struct {
	Id      defs.Tid_t
	Space   Switcher
	Handles *objects.Table
	Accnt   *accnt.Accnt_t

	mu    sync.Mutex
	state stateKind
	frame Frame
	cont  Continuation
}

// registry is the process-wide scheduler state: the id->Task map, the
// round-robin order, and the next-id counter. It is a single struct
// rather than loose package vars so the whole thing can be built once
// and gated behind schedCell (spec §9 "Global mutable state": the task
// map is process-wide and must be an EarlyInit-style cell that panics
// on double-init and on access before init).
type registry struct {
	mu     sync.Mutex
	reg    map[defs.Tid_t]*Task
	order  []defs.Tid_t
	lastIx int
	nextId uint64
}

var schedCell earlyinit.Cell[*registry]

// InitScheduler installs the process-wide task registry. Must be
// called exactly once, before the first Spawn; NewBootTask does this
// for the kernel's own boot sequence.
func InitScheduler() {
	schedCell.Init(&registry{reg: map[defs.Tid_t]*Task{}, lastIx: -1})
}

func sched() *registry {
	return schedCell.Get()
}

// Spawn allocates a TaskId, installs cont with state Wake, and
// inserts the task into the scheduler. Per spec §4.D, spawn is
// all-or-nothing: handles should be fully populated by the caller
// before calling Spawn, since nothing is shared with the scheduler
// until the single insert below succeeds.
func Spawn(space Switcher, handles *objects.Table, cont Continuation) (defs.Tid_t, defs.Err_t) {
	r := sched()
	r.mu.Lock()
	defer r.mu.Unlock()

	id := defs.Tid_t(atomic.AddUint64(&r.nextId, 1))
	t := &Task{
		Id:      id,
		Space:   space,
		Handles: handles,
		Accnt:   &accnt.Accnt_t{},
		state:   stateWake,
		cont:    cont,
	}
	r.reg[id] = t
	r.order = append(r.order, id)
	return id, defs.OK
}

func lookup(id defs.Tid_t) (*Task, bool) {
	r := sched()
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.reg[id]
	return t, ok
}

// Lookup returns the Task registered under id, for callers (like
// sysdispatch) that need to resolve a TaskId back to a live Task
// outside of the scheduler loop itself.
func Lookup(id defs.Tid_t) (*Task, bool) {
	return lookup(id)
}

// Waker carries just a TaskId (spec §4.D): calling Wake transitions
// that task from Sleep to Wake, or does nothing if it's already
// runnable. Wakes are idempotent.
type Waker struct {
	id defs.Tid_t
}

func (w Waker) Wake() {
	t, ok := lookup(w.id)
	if !ok {
		return
	}
	t.mu.Lock()
	if t.state == stateSleep {
		t.state = stateWake
	}
	t.mu.Unlock()
}

// Sleep transitions t to Sleep and returns a Waker that can resume it.
// Callers invoke this from inside a continuation right before
// returning Pending, when they have registered with whatever queue
// will eventually call Wake.
func (t *Task) Sleep() Waker {
	t.mu.Lock()
	t.state = stateSleep
	t.mu.Unlock()
	return Waker{id: t.Id}
}

// EntryFrame returns the trap frame saved when this task entered
// SyscallEntry, for the continuation to decode (spec §4.E).
func (t *Task) EntryFrame() Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// ResumeUser writes f into the task's saved frame and transitions it
// back to User, making it eligible to run on the next selection.
func (t *Task) ResumeUser(f Frame) {
	t.mu.Lock()
	t.frame = f
	t.state = stateUser
	t.mu.Unlock()
}

// EnterSyscall moves a task from User to SyscallEntry with the
// trapped frame, called by the vector-0x7F handler before entering
// the scheduler.
func EnterSyscall(id defs.Tid_t, frame Frame) {
	t, ok := lookup(id)
	if !ok {
		panic("task: syscall entry from unknown task")
	}
	t.mu.Lock()
	if t.state != stateUser {
		panic("task: syscall entry from a task not in User")
	}
	t.state = stateSyscallEntry
	t.frame = frame
	t.mu.Unlock()
}

// dropper is implemented by Switcher values that also own a
// releasable resource (vm.AddressSpace does, via Drop). It is checked
// with a type assertion rather than folded into Switcher so that
// tests can use a Switcher that has no teardown at all.
type dropper interface {
	Drop()
}

// Exit removes id from the scheduler, tears down its handle table,
// and drops its address space, all before returning (spec §4.D
// "Exit", §9 "must tear down the task's handle table, address space,
// and scheduler entries atomically"). A task must not be polled again
// after Exit; its continuation is expected to return Pending and let
// the scheduler move on, since id no longer resolves to anything.
func Exit(id defs.Tid_t) {
	r := sched()
	r.mu.Lock()
	t, ok := r.reg[id]
	if ok {
		delete(r.reg, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.lastIx = -1
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	t.Handles.Teardown()
	if d, ok := t.Space.(dropper); ok {
		d.Drop()
	}
}

// RunOnce executes one pass of the scheduler loop (spec §4.D):
//  1. if outgoing was running in User, save its frame;
//  2. select the next runnable task by round robin;
//  3. switch address space;
//  4. if it's in User, return its frame to dispatch; otherwise poll
//     its continuation and loop.
func RunOnce(outgoingId defs.Tid_t, outgoing Frame, outgoingWasUser bool) Frame {
	if outgoingWasUser {
		if t, ok := lookup(outgoingId); ok {
			t.mu.Lock()
			t.frame = outgoing
			t.mu.Unlock()
		}
	}

	for {
		t := selectNext()
		if t == nil {
			panic("task: no runnable task")
		}
		t.Space.Switch()

		t.mu.Lock()
		state := t.state
		frame := t.frame
		t.mu.Unlock()

		if state == stateUser {
			return frame
		}

		if t.cont(t) == Ready {
			panic("task: continuation completed; tasks do not exit")
		}
	}
}

// Start invents an empty trap frame and runs the scheduler once to
// select the first work item (spec §4.D "Starting").
func Start() Frame {
	return RunOnce(0, Frame{}, false)
}

func selectNext() *Task {
	r := sched()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	if n == 0 {
		return nil
	}
	start := (r.lastIx + 1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		id := r.order[idx]
		t, ok := r.reg[id]
		if !ok {
			continue
		}
		t.mu.Lock()
		runnable := t.state != stateSleep
		t.mu.Unlock()
		if runnable {
			r.lastIx = idx
			return t
		}
	}
	return nil
}
