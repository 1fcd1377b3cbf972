package vsa

import (
	"testing"

	"github.com/relift/relift/pcode"
)

// members enumerates the concrete values of a range over a one-byte
// domain.
func members(cr CircleRange) map[uint64]bool {
	out := map[uint64]bool{}
	for v := uint64(0); v <= cr.Mask(); v++ {
		if cr.ContainsVal(v) {
			out[v] = true
		}
	}
	return out
}

// sampleRanges covers the interesting shapes of the one-byte domain:
// empty, full, singles, plain intervals, wrapping intervals, and strided
// variants of each.
func sampleRanges() []CircleRange {
	out := []CircleRange{
		NewEmptyRange(1),
		NewFullRange(1),
	}
	type span struct {
		left, right uint64
		step        uint64
	}
	spans := []span{
		{0, 1, 1}, {5, 6, 1}, {255, 0, 1},
		{0, 10, 1}, {5, 15, 1}, {10, 5, 1}, {250, 5, 1},
		{100, 110, 1}, {200, 100, 1}, {0, 128, 1}, {128, 0, 1},
		{0, 8, 2}, {1, 9, 2}, {250, 4, 2}, {4, 4, 2},
		{0, 16, 4}, {3, 19, 4}, {240, 8, 4}, {1, 1, 4},
		{0, 32, 8}, {7, 39, 8},
	}
	for _, s := range spans {
		out = append(out, NewRange(s.left, s.right, 1, s.step))
	}
	return out
}

func TestPredicateConsistency(t *testing.T) {
	for _, cr := range sampleRanges() {
		if cr.IsFull() && cr.IsEmpty() {
			t.Errorf("%s: both full and empty", cr)
		}
		if cr.IsSingle() && (cr.IsFull() || cr.IsEmpty()) {
			t.Errorf("%s: single conflicts with full/empty", cr)
		}
		n := len(members(cr))
		switch {
		case cr.IsEmpty() && n != 0:
			t.Errorf("%s: empty but %d members", cr, n)
		case cr.IsFull() && n != 256:
			t.Errorf("%s: full but %d members", cr, n)
		case cr.IsSingle() && n != 1:
			t.Errorf("%s: single but %d members", cr, n)
		}
	}
}

func TestContainsVal(t *testing.T) {
	cr := NewRange(250, 5, 1, 1)
	for _, v := range []uint64{250, 255, 0, 4} {
		if !cr.ContainsVal(v) {
			t.Errorf("%s should contain %d", cr, v)
		}
	}
	for _, v := range []uint64{5, 249, 100} {
		if cr.ContainsVal(v) {
			t.Errorf("%s should not contain %d", cr, v)
		}
	}
	strided := NewRange(4, 20, 1, 4)
	if !strided.ContainsVal(12) || strided.ContainsVal(13) {
		t.Errorf("%s: stride membership wrong", strided)
	}
}

func TestIntersectScenario(t *testing.T) {
	a := NewRange(0, 10, 1, 1)
	b := NewRange(5, 15, 1, 1)
	if res := a.Intersect(b); res != 0 {
		t.Fatalf("intersect returned %d", res)
	}
	if a.Left() != 5 || a.Right() != 10 || a.Step() != 1 {
		t.Errorf("got %s, want [0x5,0xa)", a)
	}
}

func TestIntersectSoundness(t *testing.T) {
	ranges := sampleRanges()
	for _, a := range ranges {
		for _, b := range ranges {
			ma, mb := members(a), members(b)
			res := a
			code := res.Intersect(b)
			mr := members(res)
			for v := uint64(0); v < 256; v++ {
				both := ma[v] && mb[v]
				if code == 0 {
					if mr[v] != both {
						t.Fatalf("%s ∩ %s = %s: value %d wrong", a, b, res, v)
					}
				} else if both && !mr[v] {
					t.Fatalf("%s ∩ %s (two pieces, kept %s): lost %d", a, b, res, v)
				}
			}
		}
	}
}

func TestCircleUnionSoundness(t *testing.T) {
	ranges := sampleRanges()
	for _, a := range ranges {
		for _, b := range ranges {
			ma, mb := members(a), members(b)
			res := a
			code := res.CircleUnion(b)
			if code != 0 {
				continue
			}
			mr := members(res)
			exact := a.Step() == 1 && b.Step() == 1
			for v := uint64(0); v < 256; v++ {
				either := ma[v] || mb[v]
				if either && !mr[v] {
					t.Fatalf("%s ∪ %s = %s: lost %d", a, b, res, v)
				}
				if exact && !either && mr[v] {
					t.Fatalf("%s ∪ %s = %s: gained %d", a, b, res, v)
				}
			}
		}
	}
}

func TestMinimalContainerSoundness(t *testing.T) {
	ranges := sampleRanges()
	for _, a := range ranges {
		for _, b := range ranges {
			res := a
			res.MinimalContainer(b, maxStepSize)
			if !res.Contains(a) && !a.IsEmpty() {
				for v := range members(a) {
					if !res.ContainsVal(v) {
						t.Fatalf("container(%s, %s) = %s: lost %d from first", a, b, res, v)
					}
				}
			}
			for v := range members(b) {
				if !res.ContainsVal(v) {
					t.Fatalf("container(%s, %s) = %s: lost %d from second", a, b, res, v)
				}
			}
		}
	}
}

func TestMinimalContainerStrideInference(t *testing.T) {
	a := NewSingleRange(4, 1)
	b := NewSingleRange(12, 1)
	a.MinimalContainer(b, maxStepSize)
	if a.Step() != 8 {
		t.Errorf("got step %d, want 8 (%s)", a.Step(), a)
	}
	if !a.ContainsVal(4) || !a.ContainsVal(12) || a.ContainsVal(8) {
		t.Errorf("wrong members in %s", a)
	}
}

func TestSetNZMask(t *testing.T) {
	tests := []struct {
		nzmask uint64
		want   []uint64
		absent []uint64
		full   bool
	}{
		{0, []uint64{0}, []uint64{1, 255}, false},
		{0xff, nil, nil, true},
		{0x0f, []uint64{0, 7, 15}, []uint64{16, 255}, false},
		{0xf0, []uint64{0, 16, 240}, []uint64{1, 8, 255}, false},
		{0x50, []uint64{0, 16, 64, 80}, []uint64{1, 8}, false},
	}
	for _, tt := range tests {
		var cr CircleRange
		cr.SetNZMask(tt.nzmask, 1)
		if cr.IsFull() != tt.full {
			t.Errorf("nzmask %#x: full=%v, want %v (%s)", tt.nzmask, cr.IsFull(), tt.full, cr)
		}
		for _, v := range tt.want {
			if !cr.ContainsVal(v) {
				t.Errorf("nzmask %#x: %s missing %d", tt.nzmask, cr, v)
			}
		}
		for _, v := range tt.absent {
			if cr.ContainsVal(v) {
				t.Errorf("nzmask %#x: %s should not contain %d", tt.nzmask, cr, v)
			}
		}
	}
}

func TestWiden(t *testing.T) {
	cr := NewRange(0, 2, 1, 1)
	container := NewRange(0, 10, 1, 1)
	cr.Widen(container, true)
	if cr.Left() != 0 || cr.Right() != 10 {
		t.Errorf("got %s, want [0,0xa)", cr)
	}

	cr = NewRange(8, 10, 1, 1)
	container = NewRange(0, 10, 1, 1)
	cr.Widen(container, false)
	if cr.Left() != 0 || cr.Right() != 10 {
		t.Errorf("got %s, want [0,0xa)", cr)
	}

	// widening into a full container keeps the stride class
	cr = NewRange(0, 8, 1, 2)
	cr.Widen(NewFullRange(1), true)
	if cr.Step() != 2 || !cr.ContainsVal(254) || cr.ContainsVal(1) {
		t.Errorf("stride lost: %s", cr)
	}
}

func TestComplement(t *testing.T) {
	cr := NewRange(5, 10, 1, 1)
	cr.Complement()
	if cr.ContainsVal(5) || cr.ContainsVal(9) || !cr.ContainsVal(10) || !cr.ContainsVal(4) {
		t.Errorf("wrong complement %s", cr)
	}
	cr = NewRange(0, 8, 1, 2)
	cr.Complement()
	if !cr.IsFull() {
		t.Errorf("strided complement should be full, got %s", cr)
	}
	cr = NewEmptyRange(1)
	cr.Complement()
	if !cr.IsFull() {
		t.Errorf("complement of empty should be full, got %s", cr)
	}
}

func TestTranslate2Op(t *testing.T) {
	tests := []struct {
		cr    CircleRange
		opc   pcode.OpCode
		c     uint64
		cslot int
		res   TranslateResult
	}{
		{NewSingleRange(7, 1), pcode.CPUI_INT_EQUAL, 7, 1, TranslateSuccess},
		{NewRange(0, 10, 1, 1), pcode.CPUI_INT_LESS, 10, 1, TranslateSuccess},
		{NewRange(10, 0, 1, 1), pcode.CPUI_INT_LESS, 9, 0, TranslateSuccess},
		{NewRange(128, 10, 1, 1), pcode.CPUI_INT_SLESS, 10, 1, TranslateSuccess},
		{NewRange(10, 128, 1, 1), pcode.CPUI_INT_SLESS, 9, 0, TranslateSuccess},
		{NewFullRange(1), 0, 0, 0, TranslateAlwaysTrue},
		{NewEmptyRange(1), 0, 0, 0, TranslateImpossible},
		{NewRange(3, 20, 1, 1), 0, 0, 0, TranslateUnrepresentable},
		{NewRange(0, 8, 1, 2), 0, 0, 0, TranslateUnrepresentable},
	}
	for _, tt := range tests {
		opc, c, cslot, res := tt.cr.Translate2Op()
		if res != tt.res {
			t.Errorf("%s: result %d, want %d", tt.cr, res, tt.res)
			continue
		}
		if res != TranslateSuccess {
			continue
		}
		if opc != tt.opc || c != tt.c || cslot != tt.cslot {
			t.Errorf("%s: got %v/%#x/slot%d, want %v/%#x/slot%d",
				tt.cr, opc, c, cslot, tt.opc, tt.c, tt.cslot)
		}
	}
}

func TestContains(t *testing.T) {
	outer := NewRange(0, 20, 1, 1)
	inner := NewRange(5, 10, 1, 1)
	if !outer.Contains(inner) {
		t.Errorf("%s should contain %s", outer, inner)
	}
	if inner.Contains(outer) {
		t.Errorf("%s should not contain %s", inner, outer)
	}
	strided := NewRange(0, 20, 1, 4)
	single := NewSingleRange(8, 1)
	if !strided.Contains(single) {
		t.Errorf("%s should contain %s", strided, single)
	}
	offClass := NewSingleRange(9, 1)
	if strided.Contains(offClass) {
		t.Errorf("%s should not contain %s", strided, offClass)
	}
}
