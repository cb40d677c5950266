// Package sysdispatch is the syscall dispatch layer (spec component
// E, §4.E): it decodes the trap frame's register convention, performs
// user-pointer validation via vm before touching any user memory, and
// drives the objects/task packages to implement each of the 15
// syscalls. Grounded on the teacher's syscall.go dispatch-by-number
// switch and crabos's syscall.rs argument layout, with Debug's
// instruction disassembly borrowed from golang.org/x/arch/x86/x86asm
// the same way the pack's profiling tools reach for golang.org/x/arch
// for anything touching raw instruction bytes.
package sysdispatch

import (
	"bytes"
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"defs"
	"fdops"
	"fs"
	"klog"
	"kstat"
	"mem"
	"objects"
	"stats"
	"task"
	"ustr"
	"vm"
)

// Syscall numbers, matching spec §4.E's table exactly.
const (
	SysAllocPage = iota + 1
	SysReleasePage
	SysModifyPage
	SysReleaseHandle
	SysCloneHandle
	SysCreatePageContext
	SysDebug
	SysSetPageContext
	SysGetPageContext
	SysCreateTask
	SysExit
	SysMapPhysicalMemory
	SysReadFile
	SysWriteFile
	SysOpenFile
)

const pageSize = 1 << 12

// maxPagesPerCall bounds AllocPage/ModifyPage/ReleasePage/
// MapPhysicalMemory so a hostile n_pages argument cannot make the
// kernel pre-allocate an unbounded slice.
const maxPagesPerCall = 1 << 20

// maxIOSize bounds a single ReadFile/WriteFile transfer so the kernel
// never stages an unbounded buffer on a user's say-so. OpenFile's path
// is bounded separately, to one page.
const maxIOSize = 1 << 20

// defaultUserRFLAGS is IF set (interrupts enabled in user mode) plus
// the always-one reserved bit 1, the RFLAGS value every freshly
// spawned task starts with.
const defaultUserRFLAGS = 0x202

var (
	rootFSMu sync.Mutex
	rootFS   *fs.Tree
)

// SetRootFS installs the filesystem tree OpenFile resolves paths
// against. Called once at boot.
func SetRootFS(t *fs.Tree) {
	rootFSMu.Lock()
	rootFS = t
	rootFSMu.Unlock()
}

func currentRootFS() *fs.Tree {
	rootFSMu.Lock()
	defer rootFSMu.Unlock()
	return rootFS
}

// spaceMu guards activeHandle, the per-task record of which handle in
// a task's own table currently holds its internal reference to the
// active AddressSpace Object (distinct from whatever handle a caller
// of SetPageContext passed in, so that releasing the caller's handle
// never invalidates the task's own running address space). This
// bookkeeping is a dispatch-layer concern, not the scheduler's, so it
// lives here rather than on task.Task.
var (
	spaceMu      sync.Mutex
	activeHandle = map[defs.Tid_t]objects.Handle{}
)

func setActiveHandle(id defs.Tid_t, h objects.Handle) {
	spaceMu.Lock()
	activeHandle[id] = h
	spaceMu.Unlock()
}

func getActiveHandle(id defs.Tid_t) objects.Handle {
	spaceMu.Lock()
	defer spaceMu.Unlock()
	return activeHandle[id]
}

func clearActiveHandle(id defs.Tid_t) {
	spaceMu.Lock()
	delete(activeHandle, id)
	spaceMu.Unlock()
}

func spaceOf(t *task.Task) *vm.AddressSpace {
	as, ok := t.Space.(*vm.AddressSpace)
	if !ok {
		klog.Panic("sysdispatch: task %d has no vm.AddressSpace", t.Id)
	}
	return as
}

func encOK(val uint64) uint64    { return defs.EncodeResult(val) }
func encErr(e defs.Err_t) uint64 { return defs.EncodeErr(e) }

// translate maps an internal vm error onto the error kind the syscall
// table actually documents: NotMapped is an implementation detail of
// the page-table walk, but the syscall surface only ever speaks of
// BadPointer for "nothing is there".
func translate(e defs.Err_t) defs.Err_t {
	if e == defs.NotMapped {
		return defs.BadPointer
	}
	return e
}

// deviceName names every device OpenFile resolves directly instead of
// walking the filesystem tree, keyed by its defs.D_* identifier. The
// well-known paths below are derived from this table rather than
// spelled out twice, so defs.D_CONSOLE/D_STAT/D_PROF actually drive
// which path resolves to which device.
var deviceName = map[int]string{
	defs.D_CONSOLE: "console",
	defs.D_STAT:    "stat",
	defs.D_PROF:    "prof",
}

func devicePath(dev int) ustr.Ustr {
	return ustr.Ustr("dev/" + deviceName[dev])
}

// statPath and profPath back defs.D_STAT/defs.D_PROF: both resolve to
// a pprof snapshot of every task's accounting record rather than
// anything stored in the filesystem tree. consolePath gives
// defs.D_CONSOLE a second way to reach the same File_i every task's
// handle 1 already points at.
var (
	statPath    = devicePath(defs.D_STAT)
	profPath    = devicePath(defs.D_PROF)
	consolePath = devicePath(defs.D_CONSOLE)
)

// statFile is a one-shot sequential read of a pprof snapshot taken at
// Open time, mirroring fs.File's own sequential-cursor behavior.
type statFile struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func newStatFile() (*statFile, defs.Err_t) {
	var buf bytes.Buffer
	if err := kstat.Write(&buf); err != nil {
		return nil, defs.IoError
	}
	return &statFile{data: buf.Bytes()}, defs.OK
}

func (s *statFile) Read(dst []uint8) (int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.data) {
		return 0, defs.OK
	}
	n := copy(dst, s.data[s.pos:])
	s.pos += n
	return n, defs.OK
}

func (s *statFile) Write([]uint8) (int, defs.Err_t) { return 0, defs.IoError }
func (s *statFile) Close()                          {}

// consoleFile is installed as handle 1 in every task's table at
// spawn time (spec scenario S4 "handle 1 (console)").
var consoleFile fdops.File_i

// SetConsole installs the File_i every new task's handle 1 points at.
func SetConsole(c fdops.File_i) {
	consoleFile = c
}

func seedConsoleHandle(tbl *objects.Table) {
	if consoleFile == nil {
		return
	}
	obj := objects.New(objects.KindFile, consoleFile, func(interface{}) {})
	h := tbl.Insert(obj)
	if h != 1 {
		klog.Panic("sysdispatch: console handle expected to be 1, got %d", h)
	}
}

// NewBootTask installs the scheduler registry (spec §9 "Global
// mutable state") and spawns the first task, owning a fresh reference
// to the already-active boot address space, entering user code at
// rip/rsp. This is the kernel's single boot-time call site; task.Spawn
// must never be reached before it.
func NewBootTask(rip, rsp uint64) (defs.Tid_t, defs.Err_t) {
	task.InitScheduler()
	as := vm.AdoptCurrent()
	obj := objects.New(objects.KindPageCtx, as, func(payload interface{}) {
		payload.(*vm.AddressSpace).Drop()
	})
	return spawnUserTask(as, obj, rip, rsp)
}

func spawnUserTask(as *vm.AddressSpace, spaceObjForChild *objects.Object, rip, rsp uint64) (defs.Tid_t, defs.Err_t) {
	handles := objects.NewTable()
	seedConsoleHandle(handles)
	ownHandle := handles.Insert(spaceObjForChild)

	id, err := task.Spawn(as, handles, bootContinuation(rip, rsp))
	if err != defs.OK {
		return 0, err
	}
	setActiveHandle(id, ownHandle)
	if tk, ok := task.Lookup(id); ok {
		kstat.Record(id, tk.Accnt)
	}
	return id, defs.OK
}

// bootContinuation resumes a brand-new task directly into user mode
// on its first poll (it was spawned Wake, with no saved frame yet),
// then on every later poll decodes and dispatches the syscall that
// trapped it (spec §4.D "Syscall transition").
func bootContinuation(rip, rsp uint64) task.Continuation {
	started := false
	return func(t *task.Task) task.PollResult {
		if !started {
			started = true
			t.ResumeUser(task.Frame{RIP: rip, RSP: rsp, RFLAGS: defaultUserRFLAGS})
			return task.Pending
		}
		f := t.EntryFrame()
		start := t.Accnt.Now()
		result, exited := Dispatch(t, f)
		t.Accnt.Systadd(t.Accnt.Now() - start)
		if exited {
			return task.Pending
		}
		f.RAX = result
		t.ResumeUser(f)
		return task.Pending
	}
}

// syscallStats tallies dispatches per syscall, matching the teacher's
// Counter_t/Stats2String convention (stats.Stats = false by default,
// so Inc is a no-op and DumpSyscallStats returns ""; flip stats.Stats
// to instrument a build without touching this package).
type syscallStats struct {
	AllocPage         stats.Counter_t
	ReleasePage       stats.Counter_t
	ModifyPage        stats.Counter_t
	ReleaseHandle     stats.Counter_t
	CloneHandle       stats.Counter_t
	CreatePageContext stats.Counter_t
	Debug             stats.Counter_t
	SetPageContext    stats.Counter_t
	GetPageContext    stats.Counter_t
	CreateTask        stats.Counter_t
	Exit              stats.Counter_t
	MapPhysicalMemory stats.Counter_t
	ReadFile          stats.Counter_t
	WriteFile         stats.Counter_t
	OpenFile          stats.Counter_t
}

var scStats syscallStats

// DumpSyscallStats renders the per-syscall dispatch counts, or "" when
// stats.Stats is false.
func DumpSyscallStats() string {
	return stats.Stats2String(scStats)
}

// Dispatch decodes one trapped syscall frame and runs it. exited is
// true when the syscall was Exit, in which case the task no longer
// exists and result must not be written back anywhere.
func Dispatch(t *task.Task, f task.Frame) (result uint64, exited bool) {
	switch f.RAX {
	case SysAllocPage:
		scStats.AllocPage.Inc()
		return allocPage(t, uintptr(f.RDI), f.RSI, f.RDX), false
	case SysReleasePage:
		scStats.ReleasePage.Inc()
		return releasePage(t, uintptr(f.RDI), f.RSI), false
	case SysModifyPage:
		scStats.ModifyPage.Inc()
		return modifyPage(t, uintptr(f.RDI), f.RSI, f.RDX), false
	case SysReleaseHandle:
		scStats.ReleaseHandle.Inc()
		return releaseHandle(t, f.RDI), false
	case SysCloneHandle:
		scStats.CloneHandle.Inc()
		return cloneHandle(t, f.RDI), false
	case SysCreatePageContext:
		scStats.CreatePageContext.Inc()
		return createPageContext(t), false
	case SysDebug:
		scStats.Debug.Inc()
		return debug(t, f), false
	case SysSetPageContext:
		scStats.SetPageContext.Inc()
		return setPageContext(t, f.RDI), false
	case SysGetPageContext:
		scStats.GetPageContext.Inc()
		return getPageContext(t), false
	case SysCreateTask:
		scStats.CreateTask.Inc()
		return createTask(t, f.RDI, f.RSI, f.RDX), false
	case SysExit:
		scStats.Exit.Inc()
		exitTask(t, f.RDI)
		return 0, true
	case SysMapPhysicalMemory:
		scStats.MapPhysicalMemory.Inc()
		return mapPhysicalMemory(t, uintptr(f.RDI), uintptr(f.RSI), f.RDX, f.RCX), false
	case SysReadFile:
		scStats.ReadFile.Inc()
		return readFile(t, f.RDI, uintptr(f.RSI), f.RDX), false
	case SysWriteFile:
		scStats.WriteFile.Inc()
		return writeFile(t, f.RDI, uintptr(f.RSI), f.RDX), false
	case SysOpenFile:
		scStats.OpenFile.Inc()
		return openFile(t, uintptr(f.RDI), f.RSI, f.RDX), false
	default:
		return encErr(defs.BadSyscall), false
	}
}

func allocPage(t *task.Task, virt uintptr, nPages, userFlags uint64) uint64 {
	if nPages == 0 || nPages > maxPagesPerCall {
		return encErr(defs.IllegalValue)
	}
	if userFlags&^uint64(vm.UserWrite) != 0 {
		return encErr(defs.IllegalValue)
	}
	if virt%pageSize != 0 {
		return encErr(defs.BadPointer)
	}
	as := spaceOf(t)
	length := int(nPages) * pageSize

	// Reserve-all-then-commit (spec §9 open question, resolved here):
	// the whole range must be free and every frame must be obtained
	// before any page is actually mapped, so a MemoryExhausted midway
	// through the commit loop below cannot happen in practice; the
	// unmap-prefix fallback in the loop exists only as a defensive
	// backstop, not a documented behavior path.
	if err := as.ValidateAvailable(virt, length); err != defs.OK {
		return encErr(translate(err))
	}

	frames := make([]mem.Frame, 0, nPages)
	for i := uint64(0); i < nPages; i++ {
		fr, err := mem.Physmem().Alloc()
		if err != defs.OK {
			for _, held := range frames {
				h := held
				h.Drop()
			}
			return encErr(defs.MemoryExhausted)
		}
		frames = append(frames, fr)
	}

	flags := vm.UserPageFlags(userFlags)
	for i, fr := range frames {
		v := virt + uintptr(i)*pageSize
		if err := as.Map(v, fr, flags); err != defs.OK {
			for j := 0; j < i; j++ {
				as.Unmap(virt + uintptr(j)*pageSize)
			}
			return encErr(err)
		}
	}
	return encOK(0)
}

func releasePage(t *task.Task, virt uintptr, nPages uint64) uint64 {
	if nPages == 0 || nPages > maxPagesPerCall || virt%pageSize != 0 {
		return encErr(defs.BadPointer)
	}
	as := spaceOf(t)
	for i := uint64(0); i < nPages; i++ {
		v := virt + uintptr(i)*pageSize
		if err := as.Unmap(v); err != defs.OK {
			return encErr(translate(err))
		}
	}
	return encOK(0)
}

func modifyPage(t *task.Task, virt uintptr, nPages, rawFlags uint64) uint64 {
	if nPages == 0 || nPages > maxPagesPerCall || virt%pageSize != 0 {
		return encErr(defs.BadPointer)
	}
	if rawFlags&^uint64(vm.UserWrite) != 0 {
		return encErr(defs.IllegalValue)
	}
	as := spaceOf(t)
	flags := vm.UserPageFlags(rawFlags)
	for i := uint64(0); i < nPages; i++ {
		v := virt + uintptr(i)*pageSize
		if err := as.Modify(v, flags); err != defs.OK {
			return encErr(translate(err))
		}
	}
	return encOK(0)
}

func releaseHandle(t *task.Task, handle uint64) uint64 {
	if err := t.Handles.Release(objects.Handle(handle)); err != defs.OK {
		return encErr(err)
	}
	return encOK(0)
}

func cloneHandle(t *task.Task, handle uint64) uint64 {
	nh, err := t.Handles.Clone(objects.Handle(handle))
	if err != defs.OK {
		return encErr(err)
	}
	return encOK(uint64(nh))
}

func createPageContext(t *task.Task) uint64 {
	as, err := vm.New()
	if err != defs.OK {
		return encErr(err)
	}
	obj := objects.New(objects.KindPageCtx, as, func(payload interface{}) {
		payload.(*vm.AddressSpace).Drop()
	})
	h := t.Handles.Insert(obj)
	return encOK(uint64(h))
}

func debug(t *task.Task, f task.Frame) uint64 {
	as := spaceOf(t)
	var buf [16]byte
	if err := as.CopyFromUser(uintptr(f.RIP), buf[:]); err == defs.OK {
		if inst, derr := x86asm.Decode(buf[:], 64); derr == nil {
			klog.Info("task %d debug: %s", t.Id, inst.String())
		} else {
			klog.Info("task %d debug: <undecodable instruction at rip=%#x>", t.Id, f.RIP)
		}
	}
	klog.Info("task %d regs: rax=%#x rdi=%#x rsi=%#x rdx=%#x rcx=%#x rip=%#x rsp=%#x rflags=%#x",
		t.Id, f.RAX, f.RDI, f.RSI, f.RDX, f.RCX, f.RIP, f.RSP, f.RFLAGS)
	return encOK(0)
}

func setPageContext(t *task.Task, handle uint64) uint64 {
	obj, ok := t.Handles.Get(objects.Handle(handle))
	if !ok {
		return encErr(defs.BadHandle)
	}
	if obj.Kind() != objects.KindPageCtx {
		return encErr(defs.WrongObjectKind)
	}
	as, ok := obj.Payload().(*vm.AddressSpace)
	if !ok {
		klog.Panic("sysdispatch: PageCtx object with non-AddressSpace payload")
	}

	nh, err := t.Handles.Clone(objects.Handle(handle))
	if err != defs.OK {
		return encErr(err)
	}
	as.Switch()
	if old := getActiveHandle(t.Id); old != 0 {
		t.Handles.Release(old)
	}
	t.Space = as
	setActiveHandle(t.Id, nh)
	return encOK(0)
}

func getPageContext(t *task.Task) uint64 {
	old := getActiveHandle(t.Id)
	if old == 0 {
		klog.Panic("sysdispatch: task %d has no active page context handle", t.Id)
	}
	nh, err := t.Handles.Clone(old)
	if err != defs.OK {
		return encErr(err)
	}
	return encOK(uint64(nh))
}

func createTask(t *task.Task, pageCtxHandle, rip, rsp uint64) uint64 {
	obj, ok := t.Handles.Get(objects.Handle(pageCtxHandle))
	if !ok {
		return encErr(defs.BadHandle)
	}
	if obj.Kind() != objects.KindPageCtx {
		return encErr(defs.WrongObjectKind)
	}
	as, ok := obj.Payload().(*vm.AddressSpace)
	if !ok {
		klog.Panic("sysdispatch: PageCtx object with non-AddressSpace payload")
	}

	_, err := spawnUserTask(as, obj.Ref(), rip, rsp)
	if err != defs.OK {
		return encErr(err)
	}
	return encOK(0)
}

func exitTask(t *task.Task, status uint64) {
	klog.Info("task %d exited with status %d", t.Id, status)
	clearActiveHandle(t.Id)
	kstat.Forget(t.Id)
	task.Exit(t.Id)
}

func mapPhysicalMemory(t *task.Task, virt, phys uintptr, nPages, rawFlags uint64) uint64 {
	if nPages == 0 || nPages > maxPagesPerCall || virt%pageSize != 0 || phys%pageSize != 0 {
		return encErr(defs.BadPointer)
	}
	if rawFlags&^uint64(vm.UserWrite) != 0 {
		return encErr(defs.IllegalValue)
	}
	as := spaceOf(t)
	flags := vm.UserPageFlags(rawFlags)
	for i := uint64(0); i < nPages; i++ {
		v := virt + uintptr(i)*pageSize
		p := phys + uintptr(i)*pageSize
		fr := mem.FromRaw(mem.RawFrame(p))
		if err := as.Map(v, fr, flags); err != defs.OK {
			return encErr(err)
		}
	}
	return encOK(0)
}

func readFile(t *task.Task, handle uint64, buf uintptr, nbyte uint64) uint64 {
	obj, ok := t.Handles.Get(objects.Handle(handle))
	if !ok {
		return encErr(defs.BadHandle)
	}
	if obj.Kind() != objects.KindFile {
		return encErr(defs.WrongObjectKind)
	}
	if nbyte > maxIOSize {
		return encErr(defs.IllegalValue)
	}
	f := obj.Payload().(fdops.File_i)

	local := make([]uint8, nbyte)
	n, ferr := f.Read(local)
	if ferr != defs.OK {
		return encErr(ferr)
	}
	as := spaceOf(t)
	if err := as.CopyToUser(buf, local[:n]); err != defs.OK {
		return encErr(translate(err))
	}
	return encOK(uint64(n))
}

func writeFile(t *task.Task, handle uint64, buf uintptr, nbyte uint64) uint64 {
	obj, ok := t.Handles.Get(objects.Handle(handle))
	if !ok {
		return encErr(defs.BadHandle)
	}
	if obj.Kind() != objects.KindFile {
		return encErr(defs.WrongObjectKind)
	}
	if nbyte > maxIOSize {
		return encErr(defs.IllegalValue)
	}
	f := obj.Payload().(fdops.File_i)

	local := make([]uint8, nbyte)
	as := spaceOf(t)
	if err := as.CopyFromUser(buf, local); err != defs.OK {
		return encErr(translate(err))
	}
	n, ferr := f.Write(local)
	if ferr != defs.OK {
		return encErr(ferr)
	}
	return encOK(uint64(n))
}

func openFile(t *task.Task, path uintptr, pathLen, flags uint64) uint64 {
	if pathLen == 0 || pathLen > pageSize {
		return encErr(defs.IllegalValue)
	}

	local := make([]uint8, pathLen)
	as := spaceOf(t)
	if err := as.CopyFromUser(path, local); err != defs.OK {
		return encErr(translate(err))
	}
	requested := ustr.Ustr(local)

	var file fdops.File_i
	switch {
	case requested.Eq(statPath), requested.Eq(profPath):
		sf, err := newStatFile()
		if err != defs.OK {
			return encErr(err)
		}
		file = sf
	case requested.Eq(consolePath):
		if consoleFile == nil {
			return encErr(defs.NoFile)
		}
		file = consoleFile
	default:
		tree := currentRootFS()
		if tree == nil {
			return encErr(defs.NoFile)
		}
		f, err := tree.Open(requested)
		if err != defs.OK {
			return encErr(err)
		}
		file = f
	}

	obj := objects.New(objects.KindFile, file, func(payload interface{}) {
		payload.(fdops.File_i).Close()
	})
	h := t.Handles.Insert(obj)
	return encOK(uint64(h))
}
