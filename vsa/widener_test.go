package vsa

import (
	"testing"

	"github.com/relift/relift/pcode"
)

func testValueSet(t *testing.T) *ValueSet {
	t.Helper()
	f := pcode.NewFunction()
	b := f.NewBlock()
	in := f.NewInput(1)
	out := f.NewUnique(1)
	f.NewOp(b, pcode.CPUI_COPY, out, in)
	vs := &ValueSet{}
	vs.setVarnode(out, TypeAbsolute)
	vs.inCycle = true
	return vs
}

func TestWidenerFullCommitsEarly(t *testing.T) {
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.count = 1
	rng := NewSingleRange(0, 1)
	if !w.DoWidening(vs, &rng, NewRange(0, 2, 1, 1)) {
		t.Fatal("early iteration should commit")
	}
	if rng.Right() != 2 {
		t.Errorf("got %s, want [0,2)", rng)
	}
}

func TestWidenerFullLandmark(t *testing.T) {
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.addLandmark(TypeAbsolute, NewRange(0, 10, 1, 1))
	vs.count = w.WidenIteration
	rng := NewSingleRange(0, 1)
	if !w.DoWidening(vs, &rng, NewRange(0, 2, 1, 1)) {
		t.Fatal("landmark widening should commit")
	}
	if rng.Left() != 0 || rng.Right() != 10 {
		t.Errorf("got %s, want widened [0,0xa)", rng)
	}
}

func TestWidenerFullComplementLandmark(t *testing.T) {
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.addLandmark(TypeAbsolute, NewRange(0, 10, 1, 1))
	vs.count = w.WidenIteration
	// proposal on the false side of the landmark
	rng := NewSingleRange(20, 1)
	if !w.DoWidening(vs, &rng, NewRange(20, 22, 1, 1)) {
		t.Fatal("complement widening should commit")
	}
	if !rng.ContainsVal(20) || rng.ContainsVal(5) {
		t.Errorf("got %s, want subset of the landmark complement", rng)
	}
}

func TestWidenerFullGivesUp(t *testing.T) {
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.count = w.FullWidenIteration
	rng := NewSingleRange(0, 1)
	if w.DoWidening(vs, &rng, NewRange(0, 2, 1, 1)) {
		t.Error("past the freeze iteration the widener must give up")
	}
}

func TestWidenerFreezeMonotonic(t *testing.T) {
	// once CheckFreeze reports true, iterate must never change the range
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.rng = NewFullRange(1)
	if !w.CheckFreeze(vs) {
		t.Fatal("full range should freeze")
	}
	before := vs.rng
	for i := 0; i < 3; i++ {
		if vs.iterate(w) {
			t.Fatal("frozen value set changed")
		}
	}
	if vs.rng != before {
		t.Errorf("range moved from %s to %s after freeze", before, vs.rng)
	}

	wn := NewWidenerNone()
	vs2 := testValueSet(t)
	vs2.count = wn.FreezeIteration
	if !wn.CheckFreeze(vs2) {
		t.Error("iteration count should freeze under WidenerNone")
	}
}

func TestWidenerIterationReset(t *testing.T) {
	w := NewWidenerFull()
	vs := testValueSet(t)
	vs.count = 1
	if got := w.DetermineIterationReset(vs); got != 0 {
		t.Errorf("unwidened node reset to %d, want 0", got)
	}
	vs.count = 4
	if got := w.DetermineIterationReset(vs); got != w.WidenIteration {
		t.Errorf("widened node reset to %d, want %d", got, w.WidenIteration)
	}
}
