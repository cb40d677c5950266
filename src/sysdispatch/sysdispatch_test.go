package sysdispatch

import (
	"os"
	"testing"

	"defs"
	"objects"
	"task"
)

// TestMain installs the task scheduler registry once for the whole
// test binary: task.InitScheduler panics on double Init.
func TestMain(m *testing.M) {
	task.InitScheduler()
	os.Exit(m.Run())
}

// fakeSwitcher stands in for *vm.AddressSpace in tests that only
// exercise argument validation and handle-table logic, which return
// before sysdispatch ever needs a real address space.
type fakeSwitcher struct{}

func (fakeSwitcher) Switch() {}

func newTestTask(t *testing.T) *task.Task {
	id, err := task.Spawn(fakeSwitcher{}, objects.NewTable(), func(*task.Task) task.PollResult {
		return task.Pending
	})
	if err != defs.OK {
		t.Fatalf("task.Spawn: %v", err)
	}
	tk, ok := task.Lookup(id)
	if !ok {
		t.Fatalf("spawned task %d not found", id)
	}
	return tk
}

func TestDispatchUnknownSyscallIsBadSyscall(t *testing.T) {
	tk := newTestTask(t)
	result, exited := Dispatch(tk, task.Frame{RAX: 999})
	if exited {
		t.Fatalf("unknown syscall should not exit the task")
	}
	val, err := defs.Decode(result)
	if err != defs.BadSyscall || val != 0 {
		t.Fatalf("Decode(%#x) = (%d, %v), want (0, BadSyscall)", result, val, err)
	}
}

func TestAllocPageRejectsZeroPages(t *testing.T) {
	tk := newTestTask(t)
	result := allocPage(tk, 0x1000, 0, 0)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("nPages=0: err = %v, want IllegalValue", err)
	}
}

func TestAllocPageRejectsTooManyPages(t *testing.T) {
	tk := newTestTask(t)
	result := allocPage(tk, 0x1000, maxPagesPerCall+1, 0)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("nPages too large: err = %v, want IllegalValue", err)
	}
}

func TestAllocPageRejectsUnknownFlagBits(t *testing.T) {
	tk := newTestTask(t)
	result := allocPage(tk, 0x1000, 1, 0xff)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("bad flags: err = %v, want IllegalValue", err)
	}
}

func TestAllocPageRejectsMisalignedVirt(t *testing.T) {
	tk := newTestTask(t)
	result := allocPage(tk, 0x1001, 1, 0)
	if _, err := defs.Decode(result); err != defs.BadPointer {
		t.Fatalf("misaligned virt: err = %v, want BadPointer", err)
	}
}

func TestReleasePageRejectsMisalignedVirt(t *testing.T) {
	tk := newTestTask(t)
	result := releasePage(tk, 1, 1)
	if _, err := defs.Decode(result); err != defs.BadPointer {
		t.Fatalf("err = %v, want BadPointer", err)
	}
}

func TestModifyPageRejectsUnknownFlagBits(t *testing.T) {
	tk := newTestTask(t)
	result := modifyPage(tk, 0x1000, 1, 0xff)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("err = %v, want IllegalValue", err)
	}
}

func TestMapPhysicalMemoryRejectsMisalignedPhys(t *testing.T) {
	tk := newTestTask(t)
	result := mapPhysicalMemory(tk, 0x1000, 1, 1, 0)
	if _, err := defs.Decode(result); err != defs.BadPointer {
		t.Fatalf("err = %v, want BadPointer", err)
	}
}

func TestReleaseHandleUnknownHandle(t *testing.T) {
	tk := newTestTask(t)
	result := releaseHandle(tk, 42)
	if _, err := defs.Decode(result); err != defs.BadHandle {
		t.Fatalf("err = %v, want BadHandle", err)
	}
}

func TestCloneHandleUnknownHandle(t *testing.T) {
	tk := newTestTask(t)
	result := cloneHandle(tk, 42)
	if _, err := defs.Decode(result); err != defs.BadHandle {
		t.Fatalf("err = %v, want BadHandle", err)
	}
}

func TestSetPageContextUnknownHandle(t *testing.T) {
	tk := newTestTask(t)
	result := setPageContext(tk, 42)
	if _, err := defs.Decode(result); err != defs.BadHandle {
		t.Fatalf("err = %v, want BadHandle", err)
	}
}

func TestSetPageContextWrongKind(t *testing.T) {
	tk := newTestTask(t)
	obj := objects.New(objects.KindFile, "not a page context", nil)
	h := tk.Handles.Insert(obj)
	result := setPageContext(tk, uint64(h))
	if _, err := defs.Decode(result); err != defs.WrongObjectKind {
		t.Fatalf("err = %v, want WrongObjectKind", err)
	}
}

func TestCreateTaskUnknownHandle(t *testing.T) {
	tk := newTestTask(t)
	result := createTask(tk, 42, 0, 0)
	if _, err := defs.Decode(result); err != defs.BadHandle {
		t.Fatalf("err = %v, want BadHandle", err)
	}
}

func TestCreateTaskWrongKind(t *testing.T) {
	tk := newTestTask(t)
	obj := objects.New(objects.KindFile, "not a page context", nil)
	h := tk.Handles.Insert(obj)
	result := createTask(tk, uint64(h), 0, 0)
	if _, err := defs.Decode(result); err != defs.WrongObjectKind {
		t.Fatalf("err = %v, want WrongObjectKind", err)
	}
}

func TestReadFileRejectsOversizedTransfer(t *testing.T) {
	tk := newTestTask(t)
	obj := objects.New(objects.KindFile, nil, nil)
	h := tk.Handles.Insert(obj)
	result := readFile(tk, uint64(h), 0x2000, maxIOSize+1)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("err = %v, want IllegalValue", err)
	}
}

func TestOpenFileRejectsOversizedPath(t *testing.T) {
	tk := newTestTask(t)
	result := openFile(tk, 0x2000, pageSize+1, 0)
	if _, err := defs.Decode(result); err != defs.IllegalValue {
		t.Fatalf("err = %v, want IllegalValue", err)
	}
}

func TestOpenFileNoRootFS(t *testing.T) {
	tk := newTestTask(t)
	result := openFile(tk, 0x2000, 8, 0)
	if _, err := defs.Decode(result); err != defs.NoFile {
		t.Fatalf("err = %v, want NoFile", err)
	}
}
