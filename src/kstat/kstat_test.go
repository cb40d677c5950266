package kstat

import (
	"bytes"
	"testing"

	"accnt"
	"defs"
)

func TestSnapshotEmpty(t *testing.T) {
	mu.Lock()
	entries = map[defs.Tid_t]*entry{}
	mu.Unlock()

	p := Snapshot()
	if len(p.Sample) != 0 {
		t.Fatalf("expected no samples, got %d", len(p.Sample))
	}
	if len(p.SampleType) != 2 {
		t.Fatalf("expected 2 sample types, got %d", len(p.SampleType))
	}
}

func TestRecordAppearsInSnapshot(t *testing.T) {
	mu.Lock()
	entries = map[defs.Tid_t]*entry{}
	mu.Unlock()

	a := &accnt.Accnt_t{}
	a.Utadd(1000)
	a.Systadd(2000)
	Record(defs.Tid_t(7), a)

	p := Snapshot()
	if len(p.Sample) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(p.Sample))
	}
	s := p.Sample[0]
	if s.Value[0] != 1000 || s.Value[1] != 2000 {
		t.Fatalf("sample values = %v, want [1000 2000]", s.Value)
	}
	if s.Label["tid"][0] != "7" {
		t.Fatalf("tid label = %v, want [7]", s.Label["tid"])
	}
}

func TestForgetRemovesFromSnapshot(t *testing.T) {
	mu.Lock()
	entries = map[defs.Tid_t]*entry{}
	mu.Unlock()

	Record(defs.Tid_t(3), &accnt.Accnt_t{})
	Forget(defs.Tid_t(3))

	p := Snapshot()
	if len(p.Sample) != 0 {
		t.Fatalf("expected no samples after Forget, got %d", len(p.Sample))
	}
}

func TestWriteProducesNonEmptyOutput(t *testing.T) {
	mu.Lock()
	entries = map[defs.Tid_t]*entry{}
	mu.Unlock()
	Record(defs.Tid_t(1), &accnt.Accnt_t{})

	var buf bytes.Buffer
	if err := Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty pprof output")
	}
}
