package vsa

import (
	"fmt"

	"github.com/relift/relift/pcode"
)

// ReadSite names one input slot of one operation whose incoming value the
// caller wants projected after the fixpoint.
type ReadSite struct {
	Op   *pcode.Op
	Slot int
}

// ValueSetRead is the abstract value arriving at a specific read site,
// narrowed by any branch constraint that dominates the reading operation.
// It is computed once after Solve and never iterated.
type ValueSetRead struct {
	op            *pcode.Op
	slot          int
	typeCode      int
	rng           CircleRange
	equation      Equation
	hasEquation   bool
	leftIsStable  bool
	rightIsStable bool
}

// Op returns the reading operation.
func (rd *ValueSetRead) Op() *pcode.Op { return rd.op }

// Slot returns the input slot being read.
func (rd *ValueSetRead) Slot() int { return rd.slot }

// TypeCode returns TypeAbsolute or TypeRelative.
func (rd *ValueSetRead) TypeCode() int { return rd.typeCode }

// Range returns the narrowed range at the read site.
func (rd *ValueSetRead) Range() CircleRange { return rd.rng }

// LeftIsStable reports boundary stability inherited from the read value.
func (rd *ValueSetRead) LeftIsStable() bool { return rd.leftIsStable }

// RightIsStable reports boundary stability inherited from the read value.
func (rd *ValueSetRead) RightIsStable() bool { return rd.rightIsStable }

func (rd *ValueSetRead) String() string {
	return fmt.Sprintf("read %s slot %d %s", rd.op, rd.slot, rd.rng)
}

// addEquation records a local constraint; only the first one sticks.
func (rd *ValueSetRead) addEquation(typeCode int, rng CircleRange) {
	if rd.hasEquation {
		return
	}
	rd.equation = Equation{slot: rd.slot, typeCode: typeCode, rng: rng}
	rd.hasEquation = true
}

// compute projects the solved value set onto the read site.
func (rd *ValueSetRead) compute(s *ValueSetSolver) {
	vn := rd.op.Input(rd.slot)
	vs := s.lookup(vn)
	if vs == nil {
		rd.typeCode = TypeAbsolute
		rd.rng = NewFullRange(vn.Size)
		return
	}
	rd.typeCode = vs.typeCode
	rd.rng = vs.rng
	rd.leftIsStable = vs.leftIsStable
	rd.rightIsStable = vs.rightIsStable
	if rd.hasEquation && rd.equation.typeCode == rd.typeCode {
		narrowed := rd.rng
		if narrowed.Intersect(rd.equation.rng) == 0 {
			rd.rng = narrowed
		}
	}
}
