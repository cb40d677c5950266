package defs

import "testing"

func TestEncodeResultClearsErrorBit(t *testing.T) {
	vals := []uint64{0, 1, 128, 1 << 62, 1<<63 - 1}
	for _, v := range vals {
		raw := EncodeResult(v)
		if raw&errBit != 0 {
			t.Errorf("EncodeResult(%d): bit 63 set", v)
		}
		got, err := Decode(raw)
		if err != OK || got != v {
			t.Errorf("Decode(EncodeResult(%d)) = (%d, %v), want (%d, OK)", v, got, err, v)
		}
	}
}

func TestEncodeResultPanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for a value not fitting in 63 bits")
		}
	}()
	EncodeResult(1 << 63)
}

func TestEncodeErrSetsErrorBit(t *testing.T) {
	for e := MemoryExhausted; e <= NoFile; e++ {
		raw := EncodeErr(e)
		if raw&errBit == 0 {
			t.Errorf("EncodeErr(%v): bit 63 not set", e)
		}
		val, err := Decode(raw)
		if err != e || val != 0 {
			t.Errorf("Decode(EncodeErr(%v)) = (%d, %v), want (0, %v)", e, val, err, e)
		}
	}
}

func TestEncodeErrPanicsOnOK(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for EncodeErr(OK)")
		}
	}()
	EncodeErr(OK)
}
