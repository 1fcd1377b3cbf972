package vsa

import (
	"fmt"

	"github.com/relift/relift/pcode"
)

// maxStepSize caps the stride inferred by multiplication and by merging
// single values, keeping precision growth bounded.
const maxStepSize = 32

// Type codes classifying what a range is measured against.
const (
	// TypeAbsolute ranges hold plain integer values.
	TypeAbsolute = 0
	// TypeRelative ranges hold offsets from a distinguished base register,
	// typically the stack pointer.
	TypeRelative = 1
)

// Equation is a range constraint on one input slot of an operation,
// derived from a dominating conditional branch. A slot equal to the
// operand count marks a landmark: it never narrows an operand, it only
// guides widening.
type Equation struct {
	slot     int
	typeCode int
	rng      CircleRange
}

// ValueSet is the abstract state of one varnode: its current range, the
// operation defining it, boundary stability from the last iteration, and
// any branch-derived equations. ValueSets live for one solver run.
type ValueSet struct {
	vn            *pcode.Varnode
	typeCode      int
	opCode        pcode.OpCode
	numParams     int
	rng           CircleRange
	leftIsStable  bool
	rightIsStable bool
	count         int
	equations     []Equation
	solver        *ValueSetSolver
	partHead      *Partition
	inCycle       bool
}

// Varnode returns the IR node this state belongs to.
func (vs *ValueSet) Varnode() *pcode.Varnode { return vs.vn }

// TypeCode returns TypeAbsolute or TypeRelative.
func (vs *ValueSet) TypeCode() int { return vs.typeCode }

// Range returns the current over-approximation of the node's values.
func (vs *ValueSet) Range() CircleRange { return vs.rng }

// LeftIsStable reports whether the range's start survived the last
// iteration unchanged.
func (vs *ValueSet) LeftIsStable() bool { return vs.leftIsStable }

// RightIsStable reports whether the range's end survived the last
// iteration unchanged.
func (vs *ValueSet) RightIsStable() bool { return vs.rightIsStable }

// Count returns the node's iteration counter.
func (vs *ValueSet) Count() int { return vs.count }

func (vs *ValueSet) String() string {
	prefix := ""
	if vs.typeCode == TypeRelative {
		prefix = "rel:"
	}
	return fmt.Sprintf("%s%s%s", vs.vn, prefix, vs.rng)
}

// setVarnode classifies the node's origin and seeds its initial range.
func (vs *ValueSet) setVarnode(vn *pcode.Varnode, typeCode int) {
	vs.vn = vn
	vs.typeCode = typeCode
	vs.count = 0
	switch {
	case typeCode != TypeAbsolute:
		// a relative root is offset zero from its own base
		vs.opCode = pcode.CPUI_MAX
		vs.numParams = 0
		vs.rng = NewSingleRange(0, vn.Size)
		vs.leftIsStable = true
		vs.rightIsStable = true
	case vn.Def != nil:
		op := vn.Def
		vs.opCode = op.Code
		vs.numParams = op.NumInputs()
		if vs.opCode == pcode.CPUI_INDIRECT {
			vs.numParams = 1
		}
		vs.rng = NewEmptyRange(vn.Size)
		vs.leftIsStable = false
		vs.rightIsStable = false
	case vn.IsConstant():
		vs.opCode = pcode.CPUI_MAX
		vs.numParams = 0
		vs.rng = NewSingleRange(vn.Offset, vn.Size)
		vs.leftIsStable = true
		vs.rightIsStable = true
	default:
		// free input: all we know is its known-zero bitmask
		vs.opCode = pcode.CPUI_MAX
		vs.numParams = 0
		vs.rng.SetNZMask(vn.NZMask(), vn.Size)
		vs.leftIsStable = false
		vs.rightIsStable = false
	}
}

func (vs *ValueSet) setFull() {
	vs.rng = NewFullRange(vs.vn.Size)
	vs.typeCode = TypeAbsolute
}

// addEquation inserts a constraint keeping the list ordered by slot.
func (vs *ValueSet) addEquation(slot, typeCode int, rng CircleRange) {
	i := len(vs.equations)
	for i > 0 && vs.equations[i-1].slot > slot {
		i--
	}
	vs.equations = append(vs.equations, Equation{})
	copy(vs.equations[i+1:], vs.equations[i:])
	vs.equations[i] = Equation{slot: slot, typeCode: typeCode, rng: rng}
}

// addLandmark records a branch constraint at the pseudo-slot past the last
// operand, where it can never narrow an input but still guides widening.
func (vs *ValueSet) addLandmark(typeCode int, rng CircleRange) {
	vs.addEquation(vs.numParams, typeCode, rng)
}

// doesEquationApply reports whether equation num constrains the given
// operand slot under the current type code.
func (vs *ValueSet) doesEquationApply(num, slot int) bool {
	if num >= len(vs.equations) {
		return false
	}
	eq := &vs.equations[num]
	return eq.slot == slot && eq.typeCode == vs.typeCode
}

// getLandMark returns a range suitable as a widening target, or nil.
func (vs *ValueSet) getLandMark() *CircleRange {
	for i := range vs.equations {
		if vs.equations[i].typeCode == vs.typeCode {
			return &vs.equations[i].rng
		}
	}
	return nil
}

// equationFor returns the index of the equation constraining slot, or -1.
func (vs *ValueSet) equationFor(slot int) int {
	for i := range vs.equations {
		if vs.equations[i].slot == slot {
			if vs.doesEquationApply(i, slot) {
				return i
			}
			return -1
		}
	}
	return -1
}

// computeTypeCode rederives the node's type code from its operands.
// Returns -1 when relative and absolute values mix in a way the domain
// cannot represent.
func (vs *ValueSet) computeTypeCode() int {
	relCount, last := 0, 0
	for slot := 0; slot < vs.numParams; slot++ {
		in := vs.solver.lookup(vs.vn.Def.Input(slot))
		if in != nil && in.typeCode != TypeAbsolute {
			relCount++
			last = in.typeCode
		}
	}
	if relCount == 0 {
		return TypeAbsolute
	}
	switch vs.opCode {
	case pcode.CPUI_INT_ADD, pcode.CPUI_INT_SUB, pcode.CPUI_PTRSUB,
		pcode.CPUI_PTRADD, pcode.CPUI_COPY, pcode.CPUI_INDIRECT,
		pcode.CPUI_MULTIEQUAL:
		if relCount == 1 {
			return last
		}
	}
	return -1
}

// operandRange fetches the abstract value of one operand, narrowed by any
// active equation for that slot. ok is false when the operand has no
// usable abstract value.
func (vs *ValueSet) operandRange(slot int) (rng CircleRange, ok bool) {
	in := vs.vn.Def.Input(slot)
	if inSet := vs.solver.lookup(in); inSet != nil {
		rng = inSet.rng
	} else if in.IsConstant() {
		rng = NewSingleRange(in.Offset, in.Size)
	} else {
		return rng, false
	}
	if i := vs.equationFor(slot); i >= 0 {
		// a two-piece intersection keeps the unconstrained value
		narrowed := rng
		if narrowed.Intersect(vs.equations[i].rng) == 0 {
			rng = narrowed
		}
	}
	return rng, true
}

// iterate recomputes the node's range from its operands, committing the
// result through the widener when the node sits inside a cycle. It
// reports whether the stored range changed.
func (vs *ValueSet) iterate(widener Widener) bool {
	if vs.vn.Def == nil {
		return false
	}
	if widener.CheckFreeze(vs) {
		return false
	}
	vs.count++
	size := vs.vn.Size

	newType := vs.computeTypeCode()
	if newType < 0 {
		return vs.commitFull()
	}
	vs.typeCode = newType

	res := NewEmptyRange(size)
	if vs.opCode == pcode.CPUI_MULTIEQUAL {
		for slot := 0; slot < vs.numParams; slot++ {
			inRange, ok := vs.operandRange(slot)
			if !ok {
				return vs.commitFull()
			}
			if res.CircleUnion(inRange) != 0 {
				res.MinimalContainer(inRange, maxStepSize)
			}
		}
	} else {
		ok := false
		switch vs.numParams {
		case 1:
			if in0, have := vs.operandRange(0); have {
				ok = res.PushForwardUnary(vs.opCode, in0, vs.vn.Def.Input(0).Size, size)
			}
		case 2:
			in0, h0 := vs.operandRange(0)
			in1, h1 := vs.operandRange(1)
			if h0 && h1 {
				ok = res.PushForwardBinary(vs.opCode, in0, in1, vs.vn.Def.Input(0).Size, size, maxStepSize)
			}
		case 3:
			in0, h0 := vs.operandRange(0)
			in1, h1 := vs.operandRange(1)
			in2, h2 := vs.operandRange(2)
			if h0 && h1 && h2 {
				ok = res.PushForwardTrinary(vs.opCode, in0, in1, in2, vs.vn.Def.Input(0).Size, size, maxStepSize)
			}
		}
		if !ok {
			return vs.commitFull()
		}
	}

	if res == vs.rng {
		vs.leftIsStable = true
		vs.rightIsStable = true
		return false
	}
	vs.leftIsStable = vs.rng.Min() == res.Min()
	vs.rightIsStable = vs.rng.Right() == res.Right()
	if vs.inCycle {
		if !widener.DoWidening(vs, &vs.rng, res) {
			vs.setFull()
		}
	} else {
		vs.rng = res
	}
	return true
}

func (vs *ValueSet) commitFull() bool {
	if vs.rng.IsFull() && vs.typeCode == TypeAbsolute {
		return false
	}
	vs.setFull()
	vs.leftIsStable = false
	vs.rightIsStable = false
	return true
}
