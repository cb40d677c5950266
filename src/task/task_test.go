package task

import (
	"os"
	"testing"

	"defs"
	"objects"
)

// TestMain installs the scheduler registry once for the whole test
// binary: schedCell panics on double Init, so this must happen
// exactly once, not per test.
func TestMain(m *testing.M) {
	InitScheduler()
	os.Exit(m.Run())
}

// resetGlobals clears the already-installed registry's contents
// between tests, since Spawn registers into shared maps. It does not
// touch schedCell itself.
func resetGlobals() {
	r := sched()
	r.mu.Lock()
	r.reg = map[defs.Tid_t]*Task{}
	r.order = nil
	r.lastIx = -1
	r.nextId = 0
	r.mu.Unlock()
}

type fakeSwitcher struct{ switched int }

func (f *fakeSwitcher) Switch() { f.switched++ }

func TestRoundRobinSkipsSleep(t *testing.T) {
	resetGlobals()

	swA, swB := &fakeSwitcher{}, &fakeSwitcher{}
	idA, _ := Spawn(swA, objects.NewTable(), func(t *Task) PollResult { return Pending })
	idB, _ := Spawn(swB, objects.NewTable(), func(t *Task) PollResult { return Pending })

	taskA, _ := lookup(idA)
	taskB, _ := lookup(idB)
	taskA.mu.Lock()
	taskA.state = stateSleep
	taskA.mu.Unlock()
	taskB.ResumeUser(Frame{RAX: 42})

	got := RunOnce(0, Frame{}, false)
	if got.RAX != 42 {
		t.Fatalf("RunOnce returned frame from wrong task: %+v", got)
	}
	if swB.switched != 1 {
		t.Fatalf("expected address space switch into B, got %d switches", swB.switched)
	}
	if swA.switched != 0 {
		t.Fatalf("sleeping task A should not have been switched to")
	}
}

func TestWakeTransitionsSleepToWake(t *testing.T) {
	resetGlobals()
	sw := &fakeSwitcher{}
	id, _ := Spawn(sw, objects.NewTable(), func(t *Task) PollResult { return Pending })
	tk, _ := lookup(id)

	w := tk.Sleep()
	tk.mu.Lock()
	if tk.state != stateSleep {
		t.Fatalf("expected Sleep")
	}
	tk.mu.Unlock()

	w.Wake()
	tk.mu.Lock()
	st := tk.state
	tk.mu.Unlock()
	if st != stateWake {
		t.Fatalf("expected Wake after Wake(), got %v", st)
	}
}

func TestEnterSyscallRequiresUserState(t *testing.T) {
	resetGlobals()
	sw := &fakeSwitcher{}
	id, _ := Spawn(sw, objects.NewTable(), func(t *Task) PollResult { return Pending })

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic entering syscall from non-User state")
		}
	}()
	EnterSyscall(id, Frame{})
}

func TestResumeUserThenEnterSyscallRoundTrips(t *testing.T) {
	resetGlobals()
	sw := &fakeSwitcher{}
	id, _ := Spawn(sw, objects.NewTable(), func(t *Task) PollResult { return Pending })
	tk, _ := lookup(id)

	tk.ResumeUser(Frame{RAX: 7})
	EnterSyscall(id, Frame{RAX: 9})

	got := tk.EntryFrame()
	if got.RAX != 9 {
		t.Fatalf("EntryFrame().RAX = %d, want 9", got.RAX)
	}
}

func TestRunOnceIsFatalWithNoRunnableTask(t *testing.T) {
	resetGlobals()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when no task is runnable")
		}
	}()
	RunOnce(0, Frame{}, false)
}
