// Package kstat is the D_STAT/D_PROF accounting export: it snapshots
// every task's accnt.Accnt_t into a pprof profile, so usage can be
// inspected with ordinary pprof tooling instead of a bespoke format.
// Grounded on accnt/accnt.go for what to export (user/sys nanoseconds
// per task) and stats/stats.go's Stats2String for the idea of a single
// human-facing dump function; google/pprof/profile supplies the wire
// format itself.
package kstat

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/pprof/profile"

	"accnt"
	"defs"
)

// entry pairs a task's accounting record with its id, captured at
// Record time so Snapshot doesn't need to reach back into the
// scheduler to label samples.
type entry struct {
	id  defs.Tid_t
	acc *accnt.Accnt_t
}

var (
	mu      sync.Mutex
	entries = map[defs.Tid_t]*entry{}
)

// Record registers acc as the accounting record for task id, replacing
// any previous record for the same id. Called once per task at spawn
// time; the accnt.Accnt_t itself is updated in place thereafter.
func Record(id defs.Tid_t, acc *accnt.Accnt_t) {
	mu.Lock()
	defer mu.Unlock()
	entries[id] = &entry{id: id, acc: acc}
}

// Forget removes id's accounting record, called from task teardown so
// a snapshot taken after Exit no longer mentions it.
func Forget(id defs.Tid_t) {
	mu.Lock()
	defer mu.Unlock()
	delete(entries, id)
}

const (
	userValueType = "cpu-user"
	sysValueType  = "cpu-sys"
	unit          = "nanoseconds"
)

// Snapshot builds a pprof Profile with one sample per recorded task: a
// two-valued sample (user ns, sys ns) located at a synthetic function
// named "task-<id>", so each task shows up as its own call stack when
// viewed with `go tool pprof`.
func Snapshot() *profile.Profile {
	mu.Lock()
	ordered := make([]*entry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: userValueType, Unit: unit},
			{Type: sysValueType, Unit: unit},
		},
		PeriodType: &profile.ValueType{Type: "task", Unit: "count"},
		Period:     1,
	}

	for i, e := range ordered {
		fn := &profile.Function{
			ID:   uint64(i + 1),
			Name: fmt.Sprintf("task-%d", e.id),
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)

		e.acc.Lock()
		userns, sysns := e.acc.Userns, e.acc.Sysns
		e.acc.Unlock()

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"tid": {fmt.Sprintf("%d", e.id)}},
		})
	}

	return p
}

// Write encodes the current snapshot in pprof's gzip wire format,
// satisfying a D_STAT/D_PROF read: userspace opens the device, reads
// the returned bytes as a file, and points `go tool pprof` at them.
func Write(w io.Writer) error {
	return Snapshot().Write(w)
}
