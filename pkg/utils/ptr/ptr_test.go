package ptr

import "testing"

func TestToAndDeref(t *testing.T) {
	p := To(3)
	if *p != 3 {
		t.Fatalf("To(3) = %d", *p)
	}
	if got := Deref(p, 7); got != 3 {
		t.Errorf("Deref(p, 7) = %d, want 3", got)
	}
	if got := Deref[int](nil, 7); got != 7 {
		t.Errorf("Deref(nil, 7) = %d, want 7", got)
	}
}
