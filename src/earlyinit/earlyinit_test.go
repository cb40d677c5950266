package earlyinit

import "testing"

func TestCellInitThenGet(t *testing.T) {
	var c Cell[int]
	if c.Ready() {
		t.Fatalf("expected Ready() false before Init")
	}
	c.Init(42)
	if !c.Ready() {
		t.Fatalf("expected Ready() true after Init")
	}
	if got := c.Get(); got != 42 {
		t.Fatalf("Get() = %d, want 42", got)
	}
}

func TestCellDoubleInitPanics(t *testing.T) {
	var c Cell[string]
	c.Init("a")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double Init")
		}
	}()
	c.Init("b")
}

func TestCellAccessBeforeInitPanics(t *testing.T) {
	var c Cell[struct{}]
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on access before Init")
		}
	}()
	_ = c.Get()
}
