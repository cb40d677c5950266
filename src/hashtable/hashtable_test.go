package hashtable

import "testing"

func TestSetGetStringKeys(t *testing.T) {
	ht := MkHash(4)
	ht.Set("a", 1)
	ht.Set("b", 2)

	if v, ok := ht.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = (%v, %v), want (1, true)", v, ok)
	}
	if v, ok := ht.Get("b"); !ok || v.(int) != 2 {
		t.Fatalf("Get(b) = (%v, %v), want (2, true)", v, ok)
	}
	if _, ok := ht.Get("c"); ok {
		t.Fatalf("Get(c) found a value that was never set")
	}
}

func TestSetIsInsertIfAbsent(t *testing.T) {
	ht := MkHash(4)
	ht.Set("a", 1)
	v, inserted := ht.Set("a", 2)
	if inserted {
		t.Fatalf("Set on an existing key reported insertion")
	}
	if v.(int) != 1 {
		t.Fatalf("Set on an existing key returned %v, want the original value 1", v)
	}
	got, _ := ht.Get("a")
	if got.(int) != 1 {
		t.Fatalf("Get(a) = %v after a second Set, want unchanged 1", got)
	}
}

func TestDel(t *testing.T) {
	ht := MkHash(4)
	ht.Set("a", 1)
	ht.Del("a")
	if _, ok := ht.Get("a"); ok {
		t.Fatalf("Get(a) found a value after Del")
	}
}

func TestSize(t *testing.T) {
	ht := MkHash(4)
	ht.Set("a", 1)
	ht.Set("b", 2)
	ht.Set("c", 3)
	if n := ht.Size(); n != 3 {
		t.Fatalf("Size() = %d, want 3", n)
	}
}
