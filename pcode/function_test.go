package pcode

import "testing"

func TestNewOpWiring(t *testing.T) {
	f := NewFunction()
	b := f.NewBlock()
	x := f.NewInput(4)
	c := f.NewConstant(4, 7)
	y := f.NewUnique(4)
	op := f.NewOp(b, CPUI_INT_ADD, y, x, c)

	if y.Def != op {
		t.Error("output def not wired")
	}
	if len(x.Descend) != 1 || x.Descend[0] != op {
		t.Error("input descendant not wired")
	}
	if op.Parent != b || len(b.Ops) != 1 || b.LastOp() != op {
		t.Error("op not attached to its block")
	}
	if op.NumInputs() != 2 || op.Input(0) != x || op.Input(1) != c {
		t.Error("operand slots wrong")
	}
	if op.Slot(c) != 1 || op.Slot(y) != -1 {
		t.Errorf("Slot(c)=%d Slot(y)=%d", op.Slot(c), op.Slot(y))
	}
}

func TestVarnodeKinds(t *testing.T) {
	f := NewFunction()
	b := f.NewBlock()
	c := f.NewConstant(4, 0x30)
	in := f.NewInput(8)
	sp := f.NewSpacebase(8)
	u := f.NewUnique(4)
	f.NewOp(b, CPUI_COPY, u, in)

	if !c.IsConstant() || c.Offset != 0x30 || c.NZMask() != 0x30 {
		t.Errorf("constant: %v %#x %#x", c.IsConstant(), c.Offset, c.NZMask())
	}
	if !in.IsInput() || !in.IsFree() || in.IsSpacebase() {
		t.Error("plain input flags wrong")
	}
	if !sp.IsSpacebase() || !sp.IsInput() {
		t.Error("spacebase flags wrong")
	}
	if u.IsFree() {
		t.Error("defined varnode reported free")
	}
	for i, vn := range f.Varnodes {
		if vn.Index != i {
			t.Errorf("varnode %d has index %d", i, vn.Index)
		}
	}
}

func TestPhiSlotOrder(t *testing.T) {
	// first in-edge feeds slot 0
	f := NewFunction()
	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()
	f.AddEdge(b0, b2)
	f.AddEdge(b1, b2)

	if b2.In[0] != b0 || b2.In[1] != b1 {
		t.Fatal("in-edge order not preserved")
	}
	if b0.Out[0] != b2 {
		t.Error("out-edge not recorded")
	}
}

func TestBranchSense(t *testing.T) {
	f := NewFunction()
	b0 := f.NewBlock()
	bFalse := f.NewBlock()
	bTrue := f.NewBlock()
	f.AddEdge(b0, bFalse)
	f.AddEdge(b0, bTrue)

	if b0.FalseOut() != bFalse || b0.TrueOut() != bTrue {
		t.Error("branch edge convention broken")
	}
}

// diamond: b0 -> {b1, b2} -> b3
func buildDiamond(f *Function) (b0, b1, b2, b3 *Block) {
	b0 = f.NewBlock()
	b1 = f.NewBlock()
	b2 = f.NewBlock()
	b3 = f.NewBlock()
	f.AddEdge(b0, b1)
	f.AddEdge(b0, b2)
	f.AddEdge(b1, b3)
	f.AddEdge(b2, b3)
	f.ComputeDominators()
	return
}

func TestDominatorsDiamond(t *testing.T) {
	f := NewFunction()
	b0, b1, b2, b3 := buildDiamond(f)

	if b0.Idom != nil {
		t.Error("entry has an idom")
	}
	if b1.Idom != b0 || b2.Idom != b0 {
		t.Error("arms not dominated by entry")
	}
	if b3.Idom != b0 {
		t.Errorf("join idom is b%d, want b0", b3.Idom.Index)
	}
	if !b0.Dominates(b3) || !b0.Dominates(b0) {
		t.Error("entry must dominate the join and itself")
	}
	if b1.Dominates(b3) || b1.Dominates(b2) {
		t.Error("an arm dominates nothing past itself")
	}
}

func TestDominatorsLoop(t *testing.T) {
	f := NewFunction()
	b0 := f.NewBlock()
	b1 := f.NewBlock() // loop head
	b2 := f.NewBlock() // body, back edge to b1
	b3 := f.NewBlock()
	f.AddEdge(b0, b1)
	f.AddEdge(b1, b3)
	f.AddEdge(b1, b2)
	f.AddEdge(b2, b1)
	f.ComputeDominators()

	if b1.Idom != b0 || b2.Idom != b1 || b3.Idom != b1 {
		t.Errorf("idoms: b1<-b%v b2<-b%v b3<-b%v",
			b1.Idom.Index, b2.Idom.Index, b3.Idom.Index)
	}
	if !b1.Dominates(b2) || b2.Dominates(b1) {
		t.Error("loop head must dominate the body, not vice versa")
	}
}

func TestRestrictedByConditional(t *testing.T) {
	f := NewFunction()
	b0, b1, _, b3 := buildDiamond(f)

	if !b1.RestrictedByConditional(b0) {
		t.Error("single-predecessor arm should be restricted")
	}
	if b3.RestrictedByConditional(b0) {
		t.Error("join block is not a direct successor and cannot be restricted")
	}
	if b0.RestrictedByConditional(b1) {
		t.Error("entry has no in-edges")
	}
}
