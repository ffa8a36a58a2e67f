package buf

import (
	"math"
	"testing"
)

func TestAddOverflowSafe(t *testing.T) {
	if sum, ok := AddOverflowSafe(10, 5); !ok || sum != 15 {
		t.Fatalf("AddOverflowSafe(10,5)=%d,%v want 15,true", sum, ok)
	}
	if _, ok := AddOverflowSafe(math.MaxUint, 1); ok {
		t.Fatalf("expected overflow when adding to MaxUint")
	}
	if sum, ok := AddOverflowSafe(math.MaxUint-1, 1); !ok || sum != math.MaxUint {
		t.Fatalf("AddOverflowSafe at the edge = %d,%v", sum, ok)
	}
}

func TestMulOverflowSafe(t *testing.T) {
	if p, ok := MulOverflowSafe(0, math.MaxUint); !ok || p != 0 {
		t.Fatalf("zero operand should never overflow")
	}
	if p, ok := MulOverflowSafe(512, 8192); !ok || p != 512*8192 {
		t.Fatalf("MulOverflowSafe(512,8192)=%d,%v", p, ok)
	}
	if _, ok := MulOverflowSafe(math.MaxUint/2+1, 2); ok {
		t.Fatalf("expected overflow")
	}
}

func TestCheckRange(t *testing.T) {
	end, err := CheckRange(4096, 1024, 1024)
	if err != nil || end != 2048 {
		t.Fatalf("CheckRange in bounds = %d, %v", end, err)
	}
	if _, err := CheckRange(4096, 4000, 200); err == nil {
		t.Fatalf("CheckRange should fail past the end")
	}
	if _, err := CheckRange(4096, math.MaxUint, 2); err == nil {
		t.Fatalf("CheckRange should fail on overflow")
	}
	if end, err := CheckRange(4096, 4096, 0); err != nil || end != 4096 {
		t.Fatalf("empty range at the end should be valid")
	}
}
