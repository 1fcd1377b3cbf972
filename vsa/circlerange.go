// Package vsa computes value sets: for every tracked varnode, a
// conservative over-approximation of the integer values it can hold at
// runtime. The abstract domain is the circular strided interval
// (CircleRange); the solver propagates ranges through p-code transfer
// functions to a widened fixpoint.
package vsa

import (
	"fmt"
	"math/bits"

	"github.com/relift/relift/pcode"
)

// CircleRange is a circular (wrapping) interval of integers with a stride.
// It represents every value congruent to left modulo step inside the
// half-open interval [left, right) taken modulo mask+1. A non-empty range
// with left == right holds every value satisfying the stride. The zero
// CircleRange is not valid; use the constructors.
//
// CircleRange is a plain value type and is copied freely.
type CircleRange struct {
	left, right uint64
	mask        uint64
	step        uint64
	isEmpty     bool
}

// arrange classifies the relative position of two circular intervals. The
// index is a 6-bit code built from the pairwise <= comparisons of the four
// endpoints; the letter selects the result formula shared by Intersect and
// CircleUnion. Entries marked 'g' cannot be produced by two well-formed
// non-full ranges. The table was verified by exhaustive enumeration over
// small domains.
const arrange = "eagdcgbfgggegggcggggagdgggggggeabfgggggggcgbggggdgggfgggeagdcgbf"

func overlapCode(l1, r1, l2, r2 uint64) int {
	code := 0
	if l1 <= r1 {
		code |= 0x20
	}
	if l1 <= l2 {
		code |= 0x10
	}
	if l1 <= r2 {
		code |= 0x8
	}
	if r1 <= l2 {
		code |= 0x4
	}
	if r1 <= r2 {
		code |= 0x2
	}
	if l2 <= r2 {
		code |= 0x1
	}
	return code
}

func maskFromSize(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * uint(size))) - 1
}

func maskBits(mask uint64) uint {
	return uint(64 - bits.LeadingZeros64(mask))
}

// NewFullRange returns the unconstrained range for a value of the given
// byte size.
func NewFullRange(size int) CircleRange {
	return CircleRange{mask: maskFromSize(size), step: 1}
}

// NewSingleRange returns the range holding exactly val.
func NewSingleRange(val uint64, size int) CircleRange {
	mask := maskFromSize(size)
	val &= mask
	return CircleRange{left: val, right: (val + 1) & mask, mask: mask, step: 1}
}

// NewEmptyRange returns the empty range over the given byte size's domain.
func NewEmptyRange(size int) CircleRange {
	return CircleRange{mask: maskFromSize(size), step: 1, isEmpty: true}
}

// NewRange returns the circular interval [left, right) with the given
// stride. step must be a power of two. left == right denotes every value
// satisfying the stride.
func NewRange(left, right uint64, size int, step uint64) CircleRange {
	cr := CircleRange{left: left, right: right, mask: maskFromSize(size), step: step}
	cr.normalize()
	return cr
}

func (cr *CircleRange) normalize() {
	if cr.step == 0 {
		cr.step = 1
	}
	cr.left &= cr.mask
	cr.right &= cr.mask
	if cr.isEmpty {
		return
	}
	if cr.left == cr.right {
		res := cr.left & (cr.step - 1)
		cr.left, cr.right = res, res
		return
	}
	// keep right aligned on the stride, rounding the width up
	w := (cr.right - cr.left) & cr.mask
	if rem := w & (cr.step - 1); rem != 0 {
		w += cr.step - rem
		cr.right = (cr.left + w) & cr.mask
		if cr.left == cr.right {
			cr.normalize()
		}
	}
}

func (cr *CircleRange) setEmpty() {
	cr.isEmpty = true
	cr.left, cr.right, cr.step = 0, 0, 1
}

func (cr *CircleRange) setFull() {
	cr.isEmpty = false
	cr.left, cr.right, cr.step = 0, 0, 1
}

func fullStride(mask, step, residue uint64) CircleRange {
	res := residue & (step - 1)
	return CircleRange{left: res, right: res, mask: mask, step: step}
}

// width is the circular distance from left to right; 0 means the range
// covers its whole stride class.
func (cr CircleRange) width() uint64 {
	return (cr.right - cr.left) & cr.mask
}

// last returns the largest element position going clockwise from left.
func (cr CircleRange) lastVal() uint64 {
	if cr.left == cr.right {
		return (cr.left - cr.step) & cr.mask
	}
	return (cr.right - cr.step) & cr.mask
}

// IsEmpty reports whether the range holds no values.
func (cr CircleRange) IsEmpty() bool { return cr.isEmpty }

// IsFull reports whether the range holds every value of its domain.
func (cr CircleRange) IsFull() bool {
	return !cr.isEmpty && cr.step == 1 && cr.left == cr.right
}

// IsSingle reports whether the range holds exactly one value.
func (cr CircleRange) IsSingle() bool {
	return !cr.isEmpty && cr.left != cr.right && cr.width() == cr.step
}

// Left returns the inclusive start point.
func (cr CircleRange) Left() uint64 { return cr.left }

// Right returns the exclusive end point.
func (cr CircleRange) Right() uint64 { return cr.right }

// Mask returns the domain mask (2^bits - 1).
func (cr CircleRange) Mask() uint64 { return cr.mask }

// Step returns the stride.
func (cr CircleRange) Step() uint64 { return cr.step }

// Min returns the first value of the range going clockwise from left.
func (cr CircleRange) Min() uint64 { return cr.left }

func (cr CircleRange) String() string {
	if cr.isEmpty {
		return "(empty)"
	}
	if cr.IsFull() {
		return "(full)"
	}
	if cr.step != 1 {
		return fmt.Sprintf("[%#x,%#x)/%d", cr.left, cr.right, cr.step)
	}
	return fmt.Sprintf("[%#x,%#x)", cr.left, cr.right)
}

// ContainsVal reports whether the range holds the value v.
func (cr CircleRange) ContainsVal(v uint64) bool {
	if cr.isEmpty {
		return false
	}
	v &= cr.mask
	if (v-cr.left)&(cr.step-1) != 0 {
		return false
	}
	if cr.left == cr.right {
		return true
	}
	return (v-cr.left)&cr.mask < cr.width()
}

// Contains reports whether every value of other is held by cr, including
// stride compatibility.
func (cr CircleRange) Contains(other CircleRange) bool {
	if other.isEmpty {
		return true
	}
	if cr.isEmpty {
		return false
	}
	if cr.mask != other.mask {
		return false
	}
	if other.step < cr.step {
		// a finer stride fits only when other is one value
		if !other.IsSingle() {
			return false
		}
		return cr.ContainsVal(other.left)
	}
	if (other.left-cr.left)&(cr.step-1) != 0 {
		return false
	}
	if cr.left == cr.right {
		return true
	}
	if other.left == other.right {
		return false
	}
	w1, w2 := cr.width(), other.width()
	off := (other.left - cr.left) & cr.mask
	return w2 <= w1 && off <= w1-w2
}

// commonStride returns the largest power-of-two stride compatible with both
// ranges' strides and residues.
func commonStride(a, b CircleRange) uint64 {
	s := a.step
	if b.step < s {
		s = b.step
	}
	if diff := (a.left - b.left) & (s - 1); diff != 0 {
		s = uint64(1) << uint(bits.TrailingZeros64(diff))
	}
	return s
}

func (cr *CircleRange) lowerStride(s uint64) {
	if s >= cr.step {
		return
	}
	cr.step = s
	cr.normalize()
}

// Intersect replaces cr with a range holding the intersection of cr and
// other. It returns 0 when the result is a single range (possibly empty)
// and 2 when the true intersection is two disjoint pieces; in the latter
// case cr is left unchanged, which remains a sound container.
func (cr *CircleRange) Intersect(other CircleRange) int {
	if cr.isEmpty {
		return 0
	}
	if other.isEmpty {
		cr.setEmpty()
		return 0
	}
	if cr.mask != other.mask {
		return 2
	}
	a, b := *cr, other
	if a.step < b.step {
		a, b = b, a
	}
	// residues must agree modulo the finer stride
	if (a.left-b.left)&(b.step-1) != 0 {
		cr.setEmpty()
		return 0
	}
	if b.step < a.step {
		// restrict b to a's residue class
		if b.left == b.right {
			b = fullStride(b.mask, a.step, a.left)
		} else {
			first := (b.left + ((a.left - b.left) & (a.step - 1))) & b.mask
			if (first-b.left)&b.mask >= b.width() {
				cr.setEmpty()
				return 0
			}
			span := (b.lastVal() - first) & b.mask
			span -= span & (a.step - 1)
			nb := CircleRange{left: first, right: (first + span + a.step) & b.mask, mask: b.mask, step: a.step}
			nb.normalize()
			b = nb
		}
	}
	if a.left == a.right {
		*cr = b
		return 0
	}
	if b.left == b.right {
		*cr = a
		return 0
	}
	switch arrange[overlapCode(a.left, a.right, b.left, b.right)] {
	case 'a':
		cr.left, cr.right = b.left, b.right
	case 'b':
		cr.left, cr.right = a.left, a.right
	case 'c':
		if a.left == b.right {
			cr.setEmpty()
			return 0
		}
		cr.left, cr.right = a.left, b.right
	case 'd':
		if b.left == a.right {
			cr.setEmpty()
			return 0
		}
		cr.left, cr.right = b.left, a.right
	case 'e':
		switch {
		case a.left == b.right && b.left == a.right:
			cr.setEmpty()
			return 0
		case a.left == b.right:
			cr.left, cr.right = b.left, a.right
		case b.left == a.right:
			cr.left, cr.right = a.left, b.right
		default:
			return 2
		}
	case 'f':
		cr.setEmpty()
		return 0
	default:
		panic("vsa: impossible circular overlap configuration")
	}
	cr.isEmpty = false
	cr.step = a.step
	cr.normalize()
	return 0
}

// CircleUnion replaces cr with the union of cr and other when that union is
// a single range, returning 0. It returns 2, leaving cr unchanged, when the
// union needs two disjoint pieces; callers fall back to MinimalContainer.
func (cr *CircleRange) CircleUnion(other CircleRange) int {
	if other.isEmpty {
		return 0
	}
	if cr.isEmpty {
		*cr = other
		return 0
	}
	if cr.mask != other.mask {
		return 2
	}
	s := commonStride(*cr, other)
	a, b := *cr, other
	a.lowerStride(s)
	b.lowerStride(s)
	if a.left == a.right {
		*cr = a
		return 0
	}
	if b.left == b.right {
		*cr = b
		return 0
	}
	res := CircleRange{mask: a.mask, step: s}
	switch arrange[overlapCode(a.left, a.right, b.left, b.right)] {
	case 'a':
		res.left, res.right = a.left, a.right
	case 'b':
		res.left, res.right = b.left, b.right
	case 'c':
		if b.left == a.right {
			res = fullStride(a.mask, s, a.left)
		} else {
			res.left, res.right = b.left, a.right
		}
	case 'd':
		if a.left == b.right {
			res = fullStride(a.mask, s, a.left)
		} else {
			res.left, res.right = a.left, b.right
		}
	case 'e':
		res = fullStride(a.mask, s, a.left)
	case 'f':
		switch {
		case a.right == b.left && b.right == a.left:
			res = fullStride(a.mask, s, a.left)
		case a.right == b.left:
			res.left, res.right = a.left, b.right
		case b.right == a.left:
			res.left, res.right = b.left, a.right
		default:
			return 2
		}
	default:
		panic("vsa: impossible circular overlap configuration")
	}
	res.normalize()
	*cr = res
	return 0
}

// MinimalContainer replaces cr with the smallest single range containing
// both cr and other. Two single values at a power-of-two distance no larger
// than maxStep infer a common stride.
func (cr *CircleRange) MinimalContainer(other CircleRange, maxStep uint64) {
	if other.isEmpty {
		return
	}
	if cr.isEmpty {
		*cr = other
		return
	}
	if cr.Contains(other) {
		return
	}
	if other.Contains(*cr) {
		*cr = other
		return
	}
	if cr.mask == other.mask && cr.IsSingle() && other.IsSingle() {
		lo, hi := cr.left, other.left
		if hi < lo {
			lo, hi = hi, lo
		}
		d := hi - lo
		if d != 0 && d&(d-1) == 0 && d <= maxStep {
			*cr = CircleRange{left: lo, right: (hi + d) & cr.mask, mask: cr.mask, step: d}
		} else {
			*cr = CircleRange{left: lo, right: (hi + 1) & cr.mask, mask: cr.mask, step: 1}
		}
		cr.normalize()
		return
	}
	if cr.mask != other.mask {
		cr.setFull()
		return
	}
	if cr.CircleUnion(other) == 0 {
		return
	}
	// disjoint: pick the cheaper of the two ways to join the pieces
	s := commonStride(*cr, other)
	a, b := *cr, other
	a.lowerStride(s)
	b.lowerStride(s)
	w1 := (b.right - a.left) & a.mask
	w2 := (a.right - b.left) & a.mask
	res := CircleRange{mask: a.mask, step: s}
	if w1 <= w2 {
		res.left, res.right = a.left, b.right
	} else {
		res.left, res.right = b.left, a.right
	}
	res.normalize()
	*cr = res
}

// Widen pushes the unstable boundary of cr out to the corresponding
// boundary of container, preserving cr's stride alignment. container is
// expected to hold cr.
func (cr *CircleRange) Widen(container CircleRange, leftIsStable bool) {
	if cr.isEmpty {
		*cr = container
		return
	}
	if container.isEmpty || container.mask != cr.mask {
		return
	}
	if container.left == container.right {
		if leftIsStable {
			w := cr.mask & ^(cr.step - 1)
			cr.right = (cr.left + w + cr.step) & cr.mask
		} else {
			w := cr.mask & ^(cr.step - 1)
			cr.left = (cr.right - w - cr.step) & cr.mask
		}
		cr.normalize()
		return
	}
	if leftIsStable {
		w := (container.right - cr.left) & cr.mask
		w -= w & (cr.step - 1)
		if w >= cr.width() {
			cr.right = (cr.left + w) & cr.mask
		}
	} else {
		w := (cr.right - container.left) & cr.mask
		if rem := w & (cr.step - 1); rem != 0 {
			w -= rem
		}
		if w >= cr.width() {
			cr.left = (cr.right - w) & cr.mask
		}
	}
	cr.normalize()
}

// Complement replaces cr with a range containing every value not in cr.
// For strided ranges the complement is not representable and becomes full.
func (cr *CircleRange) Complement() {
	if cr.isEmpty {
		cr.setFull()
		return
	}
	if cr.step != 1 {
		cr.setFull()
		return
	}
	if cr.left == cr.right {
		cr.setEmpty()
		return
	}
	cr.left, cr.right = cr.right, cr.left
}

// SetNZMask derives a range from a known-zero bitmask: a value can have a
// bit set only where nzmask does. A mask whose set bits form one contiguous
// run gives an exact bounded range with a stride; otherwise only the stride
// from the trailing zero bits survives.
func (cr *CircleRange) SetNZMask(nzmask uint64, size int) {
	mask := maskFromSize(size)
	nzmask &= mask
	if nzmask == 0 {
		*cr = NewSingleRange(0, size)
		return
	}
	step := uint64(1) << uint(bits.TrailingZeros64(nzmask))
	body := nzmask / step
	if body&(body+1) == 0 {
		// 0 or 1 transitions: exact
		*cr = CircleRange{left: 0, right: (nzmask + step) & mask, mask: mask, step: step}
	} else {
		// bounded only by the stride
		*cr = fullStride(mask, step, 0)
	}
	cr.normalize()
}

// negated maps the range through two's complement negation.
func (cr *CircleRange) negated() {
	if cr.isEmpty {
		return
	}
	if cr.left == cr.right {
		*cr = fullStride(cr.mask, cr.step, -cr.left)
		return
	}
	last := cr.lastVal()
	cr.left, cr.right = (-last)&cr.mask, (cr.step-cr.left)&cr.mask
	cr.normalize()
}

// inverted maps the range through bitwise complement.
func (cr *CircleRange) inverted() {
	if cr.isEmpty {
		return
	}
	if cr.left == cr.right {
		*cr = fullStride(cr.mask, cr.step, ^cr.left)
		return
	}
	last := cr.lastVal()
	cr.left, cr.right = (^last)&cr.mask, ((^cr.left)+cr.step)&cr.mask
	cr.normalize()
}

// wraps reports whether the range passes through zero.
func (cr CircleRange) wraps() bool {
	if cr.isEmpty || cr.left == cr.right {
		return false
	}
	return cr.lastVal() < cr.left
}

// TranslateResult describes the outcome of Translate2Op.
type TranslateResult int

const (
	// TranslateSuccess: the range is exactly the satisfying set of the
	// returned comparison.
	TranslateSuccess TranslateResult = iota
	// TranslateAlwaysTrue: the range is full, any condition reading it is
	// vacuous.
	TranslateAlwaysTrue
	// TranslateImpossible: the range is empty.
	TranslateImpossible
	// TranslateUnrepresentable: no single comparison describes the range.
	TranslateUnrepresentable
)

// Translate2Op recovers a comparison operation carrying the same
// information as the range: the set of values v for which "v OP c" (or
// "c OP v") holds is exactly the range. cslot is the input slot the
// constant occupies.
func (cr CircleRange) Translate2Op() (opc pcode.OpCode, c uint64, cslot int, res TranslateResult) {
	if cr.isEmpty {
		return 0, 0, 0, TranslateImpossible
	}
	if cr.IsFull() {
		return 0, 0, 0, TranslateAlwaysTrue
	}
	if cr.step != 1 {
		return 0, 0, 0, TranslateUnrepresentable
	}
	half := (cr.mask >> 1) + 1
	switch {
	case cr.IsSingle():
		return pcode.CPUI_INT_EQUAL, cr.left, 1, TranslateSuccess
	case cr.left == 0:
		return pcode.CPUI_INT_LESS, cr.right, 1, TranslateSuccess
	case cr.right == 0:
		return pcode.CPUI_INT_LESS, cr.left - 1, 0, TranslateSuccess
	case cr.left == half:
		return pcode.CPUI_INT_SLESS, cr.right, 1, TranslateSuccess
	case cr.right == half:
		return pcode.CPUI_INT_SLESS, cr.left - 1, 0, TranslateSuccess
	}
	return 0, 0, 0, TranslateUnrepresentable
}
