package vsa

import (
	"math/bits"

	"github.com/relift/relift/pcode"
)

// PullBackUnary replaces cr, the desired output range of a unary operation,
// with the range the input operand must have had to produce it. It returns
// false when the opcode has no backward transfer, leaving cr unspecified.
func (cr *CircleRange) PullBackUnary(opc pcode.OpCode, inSize, outSize int) bool {
	switch opc {
	case pcode.CPUI_COPY, pcode.CPUI_INDIRECT:
		return true
	case pcode.CPUI_BOOL_NEGATE:
		sense, ok := cr.boolSense()
		if ok {
			var v uint64
			if !sense {
				v = 1
			}
			*cr = NewSingleRange(v, inSize)
		}
		return true
	case pcode.CPUI_INT_2COMP:
		cr.negated()
		return true
	case pcode.CPUI_INT_NEGATE:
		cr.inverted()
		return true
	case pcode.CPUI_INT_ZEXT:
		inMask := maskFromSize(inSize)
		limit := CircleRange{left: 0, right: (inMask + 1) & cr.mask, mask: cr.mask, step: 1}
		if cr.Intersect(limit) != 0 {
			*cr = NewFullRange(inSize)
			return true
		}
		cr.mask = inMask
		cr.left &= inMask
		cr.right &= inMask
		cr.normalize()
		return true
	case pcode.CPUI_INT_SEXT:
		inMask := maskFromSize(inSize)
		if inMask == cr.mask {
			return true
		}
		half := (inMask >> 1) + 1
		ext := cr.mask ^ inMask
		low := CircleRange{left: 0, right: half, mask: cr.mask, step: 1}
		high := CircleRange{left: ext + half, right: 0, mask: cr.mask, step: 1}
		p1, p2 := *cr, *cr
		if p1.Intersect(low) != 0 || p2.Intersect(high) != 0 {
			*cr = NewFullRange(inSize)
			return true
		}
		p1.mask = inMask
		p1.normalize()
		p2.mask = inMask
		p2.left &= inMask
		p2.right &= inMask
		p2.normalize()
		if p1.isEmpty {
			*cr = p2
			return true
		}
		if p1.CircleUnion(p2) != 0 {
			p1.MinimalContainer(p2, 1)
		}
		*cr = p1
		return true
	}
	return false
}

// boolSense interprets cr as the desired output of a boolean-valued
// operation. It returns the required truth value and whether that value is
// determined; when both truth values are admitted there is no constraint.
func (cr CircleRange) boolSense() (sense bool, determined bool) {
	hasTrue := cr.ContainsVal(1)
	hasFalse := cr.ContainsVal(0)
	if hasTrue == hasFalse {
		return false, false
	}
	return hasTrue, true
}

// PullBackBinary replaces cr, the desired output range of a binary
// operation with one constant operand, with the required range of the
// non-constant input. val is the constant, slot the index of the input
// being pulled back into. It returns false when the opcode has no backward
// transfer.
func (cr *CircleRange) PullBackBinary(opc pcode.OpCode, val uint64, slot int, inSize, outSize int) bool {
	inMask := maskFromSize(inSize)
	val &= inMask

	// comparison operators: determine the required boolean sense, then
	// build the satisfying input set
	if opc.BooleanOutput() {
		sense, ok := cr.boolSense()
		if !ok {
			if cr.isEmpty {
				*cr = NewEmptyRange(inSize)
			} else {
				*cr = NewFullRange(inSize)
			}
			return true
		}
		half := (inMask >> 1) + 1
		mk := func(l, r uint64) {
			*cr = CircleRange{left: l & inMask, right: r & inMask, mask: inMask, step: 1}
			cr.isEmpty = false
			cr.normalize()
		}
		empty := func() { *cr = NewEmptyRange(inSize) }
		switch opc {
		case pcode.CPUI_INT_EQUAL, pcode.CPUI_INT_NOTEQUAL:
			if opc == pcode.CPUI_INT_NOTEQUAL {
				sense = !sense
			}
			if sense {
				*cr = NewSingleRange(val, inSize)
			} else {
				mk(val+1, val)
			}
		case pcode.CPUI_INT_LESS:
			if slot == 0 { // in < val
				if sense {
					if val == 0 {
						empty()
					} else {
						mk(0, val)
					}
				} else {
					mk(val, 0)
				}
			} else { // val < in
				if sense {
					if val == inMask {
						empty()
					} else {
						mk(val+1, 0)
					}
				} else {
					mk(0, val+1)
				}
			}
		case pcode.CPUI_INT_LESSEQUAL:
			if slot == 0 { // in <= val
				if sense {
					mk(0, val+1)
				} else if val == inMask {
					empty()
				} else {
					mk(val+1, 0)
				}
			} else { // val <= in
				if sense {
					mk(val, 0)
				} else if val == 0 {
					empty()
				} else {
					mk(0, val)
				}
			}
		case pcode.CPUI_INT_SLESS:
			if slot == 0 { // in <s val
				if sense {
					if val == half {
						empty()
					} else {
						mk(half, val)
					}
				} else {
					mk(val, half)
				}
			} else { // val <s in
				if sense {
					if val == half-1 {
						empty()
					} else {
						mk(val+1, half)
					}
				} else {
					mk(half, val+1)
				}
			}
		case pcode.CPUI_INT_SLESSEQUAL:
			if slot == 0 { // in <=s val
				if sense {
					mk(half, val+1)
				} else if val == half-1 {
					empty()
				} else {
					mk(val+1, half)
				}
			} else { // val <=s in
				if sense {
					mk(val, half)
				} else if val == half {
					empty()
				} else {
					mk(half, val)
				}
			}
		case pcode.CPUI_INT_CARRY:
			// carry(in, val) is true exactly when in >= 2^bits - val
			if val == 0 {
				if sense {
					empty()
				} else {
					*cr = NewFullRange(inSize)
				}
			} else if sense {
				mk(-val, 0)
			} else {
				mk(0, -val)
			}
		default:
			return false
		}
		return true
	}

	switch opc {
	case pcode.CPUI_INT_ADD, pcode.CPUI_PTRSUB:
		cr.left = (cr.left - val) & cr.mask
		cr.right = (cr.right - val) & cr.mask
		cr.normalize()
		return true
	case pcode.CPUI_INT_SUB:
		if slot == 0 { // out = in - val
			cr.left = (cr.left + val) & cr.mask
			cr.right = (cr.right + val) & cr.mask
		} else { // out = val - in
			cr.negated()
			cr.left = (cr.left + val) & cr.mask
			cr.right = (cr.right + val) & cr.mask
		}
		cr.normalize()
		return true
	case pcode.CPUI_INT_LEFT:
		if slot != 0 {
			return false
		}
		c := uint(val)
		if c >= maskBits(cr.mask) {
			return false
		}
		if !cr.IsSingle() {
			return false
		}
		v := cr.left
		if v&((uint64(1)<<c)-1) != 0 {
			// no input can shift to this value
			*cr = NewEmptyRange(inSize)
			return true
		}
		// the preimage is a whole residue class: the top bits shifted out
		// are unconstrained
		step := (cr.mask >> c) + 1
		*cr = fullStride(cr.mask, step, v>>c)
		return true
	case pcode.CPUI_INT_RIGHT:
		if slot != 0 {
			return false
		}
		c := uint(val)
		if c >= maskBits(cr.mask) {
			return false
		}
		if c == 0 {
			return true
		}
		limit := CircleRange{left: 0, right: (cr.mask >> c) + 1, mask: cr.mask, step: 1}
		if cr.Intersect(limit) != 0 {
			*cr = NewFullRange(inSize)
			return true
		}
		if cr.isEmpty {
			return true
		}
		cr.left = (cr.left << c) & cr.mask
		cr.right = (cr.right << c) & cr.mask
		cr.step = 1
		cr.normalize()
		return true
	case pcode.CPUI_INT_SRIGHT:
		if slot != 0 {
			return false
		}
		c := uint(val)
		if c >= maskBits(cr.mask) {
			return false
		}
		if c == 0 {
			return true
		}
		half := (cr.mask >> 1) + 1
		// representable results of an arithmetic shift by c
		band := CircleRange{left: (-(half >> c)) & cr.mask, right: half >> c, mask: cr.mask, step: 1}
		if cr.Intersect(band) != 0 {
			*cr = NewFullRange(inSize)
			return true
		}
		if cr.isEmpty {
			return true
		}
		cr.left = (cr.left << c) & cr.mask
		cr.right = (cr.right << c) & cr.mask
		cr.step = 1
		cr.normalize()
		return true
	}
	return false
}

// PushForwardUnary computes the output range of a unary operation applied
// to in1, storing it in cr. It returns false when the opcode has no forward
// transfer, in which case the caller falls back to the full range.
func (cr *CircleRange) PushForwardUnary(opc pcode.OpCode, in1 CircleRange, inSize, outSize int) bool {
	if in1.isEmpty {
		*cr = NewEmptyRange(outSize)
		return true
	}
	switch opc {
	case pcode.CPUI_COPY, pcode.CPUI_INDIRECT:
		*cr = in1
		return true
	case pcode.CPUI_INT_2COMP:
		*cr = in1
		cr.negated()
		return true
	case pcode.CPUI_INT_NEGATE:
		*cr = in1
		cr.inverted()
		return true
	case pcode.CPUI_INT_ZEXT:
		inMask := in1.mask
		outMask := maskFromSize(outSize)
		if in1.left == in1.right || in1.wraps() {
			res := in1.left & (in1.step - 1)
			*cr = CircleRange{left: res, right: (inMask + 1 + res) & outMask, mask: outMask, step: in1.step}
			cr.normalize()
			return true
		}
		*cr = CircleRange{left: in1.left, right: in1.right, mask: outMask, step: in1.step}
		cr.normalize()
		return true
	case pcode.CPUI_INT_SEXT:
		inMask := in1.mask
		outMask := maskFromSize(outSize)
		if inMask == outMask {
			*cr = in1
			return true
		}
		half := (inMask >> 1) + 1
		ext := outMask ^ inMask
		last := in1.lastVal()
		switch {
		case in1.left == in1.right:
			*cr = fullStride(outMask, in1.step, in1.left)
		case !in1.wraps() && last < half:
			// wholly non-negative
			*cr = CircleRange{left: in1.left, right: in1.right, mask: outMask, step: in1.step}
		case !in1.wraps() && in1.left >= half:
			// wholly negative
			*cr = CircleRange{left: in1.left + ext, right: (last + ext + in1.step) & outMask, mask: outMask, step: in1.step}
		case in1.wraps() && in1.left >= half && (last < half || in1.right == 0):
			// crosses zero but not the sign boundary
			*cr = CircleRange{left: in1.left + ext, right: in1.right, mask: outMask, step: in1.step}
		default:
			// crosses the sign discontinuity
			*cr = fullStride(outMask, in1.step, in1.left)
		}
		cr.normalize()
		return true
	}
	return false
}

// addWidthChecked returns a+b, reporting failure on uint64 overflow.
func addWidthChecked(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func (cr *CircleRange) pushAdd(in1, in2 CircleRange) {
	mask := in1.mask
	s := in1.step
	if in2.step < s {
		s = in2.step
	}
	residue := in1.left + in2.left
	if in1.left == in1.right || in2.left == in2.right {
		*cr = fullStride(mask, s, residue)
		return
	}
	span1 := in1.width() - in1.step
	span2 := in2.width() - in2.step
	span, ok := addWidthChecked(span1, span2)
	if ok {
		var w uint64
		w, ok = addWidthChecked(span, s)
		if ok && w <= mask {
			*cr = CircleRange{left: residue & mask, right: (residue + w) & mask, mask: mask, step: s}
			cr.normalize()
			return
		}
	}
	*cr = fullStride(mask, s, residue)
}

func (cr *CircleRange) pushMult(in1, in2 CircleRange, outSize int, maxStep uint64) {
	mask := in1.mask
	if in1.IsSingle() && in2.IsSingle() {
		*cr = NewSingleRange(in1.left*in2.left, outSize)
		return
	}
	var c uint64
	var o CircleRange
	switch {
	case in1.IsSingle():
		c, o = in1.left, in2
	case in2.IsSingle():
		c, o = in2.left, in1
	default:
		*cr = NewFullRange(outSize)
		return
	}
	if c == 0 {
		*cr = NewSingleRange(0, outSize)
		return
	}
	// the constant's trailing zero bits multiply into the stride
	tz := uint(bits.TrailingZeros64(c))
	step := o.step
	if tz < 63 && step<<tz > step {
		step <<= tz
	}
	for step > maxStep && step > 1 {
		step >>= 1
	}
	residue := o.left * c
	if o.left == o.right {
		*cr = fullStride(mask, step, residue)
		return
	}
	hi, lo := bits.Mul64(o.width()-o.step, c)
	if hi == 0 {
		if w, ok := addWidthChecked(lo, step); ok && w <= mask && lo&(step-1) == 0 {
			*cr = CircleRange{left: residue & mask, right: (residue + w) & mask, mask: mask, step: step}
			cr.normalize()
			return
		}
	}
	*cr = fullStride(mask, step, residue)
}

// PushForwardBinary computes the output range of a binary operation,
// storing it in cr. maxStep caps the stride growth from multiplication. It
// returns false when the opcode has no forward transfer.
func (cr *CircleRange) PushForwardBinary(opc pcode.OpCode, in1, in2 CircleRange, inSize, outSize int, maxStep uint64) bool {
	if in1.isEmpty || in2.isEmpty {
		*cr = NewEmptyRange(outSize)
		return true
	}
	if opc.BooleanOutput() {
		*cr = NewRange(0, 2, outSize, 1)
		return true
	}
	switch opc {
	case pcode.CPUI_INT_ADD, pcode.CPUI_PTRSUB:
		if in1.mask != in2.mask {
			return false
		}
		cr.pushAdd(in1, in2)
		return true
	case pcode.CPUI_INT_SUB:
		if in1.mask != in2.mask {
			return false
		}
		neg := in2
		neg.negated()
		cr.pushAdd(in1, neg)
		return true
	case pcode.CPUI_INT_MULT:
		if in1.mask != in2.mask {
			return false
		}
		cr.pushMult(in1, in2, outSize, maxStep)
		return true
	case pcode.CPUI_INT_LEFT:
		if !in2.IsSingle() {
			return false
		}
		mask := in1.mask
		c := uint(in2.left)
		if c >= maskBits(mask) {
			*cr = NewSingleRange(0, outSize)
			return true
		}
		if c == 0 {
			*cr = in1
			return true
		}
		if uint(bits.TrailingZeros64(in1.step))+c >= maskBits(mask) {
			// the whole stride class collapses to one value
			*cr = NewSingleRange(in1.left<<c, outSize)
			return true
		}
		step := in1.step << c
		residue := in1.left << c
		if in1.left == in1.right || in1.width() > mask>>c {
			*cr = fullStride(mask, step, residue)
			return true
		}
		*cr = CircleRange{left: residue & mask, right: (residue + (in1.width() << c)) & mask, mask: mask, step: step}
		cr.normalize()
		return true
	case pcode.CPUI_INT_RIGHT:
		if !in2.IsSingle() {
			return false
		}
		mask := in1.mask
		c := uint(in2.left)
		if c >= maskBits(mask) {
			*cr = NewSingleRange(0, outSize)
			return true
		}
		if c == 0 {
			*cr = in1
			return true
		}
		step := in1.step >> c
		if step == 0 || step<<c != in1.step {
			step = 1
		}
		if in1.left == in1.right || in1.wraps() {
			left := (in1.left >> c) & (step - 1)
			*cr = CircleRange{left: left, right: left + (mask >> c) + 1, mask: mask, step: step}
			cr.normalize()
			return true
		}
		left := in1.left >> c
		span := in1.lastVal()>>c - left
		span -= span % step
		*cr = CircleRange{left: left, right: (left + span + step) & mask, mask: mask, step: step}
		cr.normalize()
		return true
	case pcode.CPUI_INT_SRIGHT:
		if !in2.IsSingle() {
			return false
		}
		mask := in1.mask
		c := uint(in2.left)
		if c == 0 {
			*cr = in1
			return true
		}
		if c >= maskBits(mask) {
			// only the sign survives
			*cr = CircleRange{left: mask, right: 1, mask: mask, step: 1}
			return true
		}
		half := (mask >> 1) + 1
		smear := mask ^ (mask >> c)
		last := in1.lastVal()
		switch {
		case in1.left != in1.right && !in1.wraps() && last < half:
			left := in1.left >> c
			span := last>>c - left
			*cr = CircleRange{left: left, right: left + span + 1, mask: mask, step: 1}
		case in1.left != in1.right && !in1.wraps() && in1.left >= half:
			left := (in1.left >> c) | smear
			span := ((last >> c) | smear) - left
			*cr = CircleRange{left: left, right: (left + span + 1) & mask, mask: mask, step: 1}
		default:
			// container of every possible arithmetic-shift result
			*cr = CircleRange{left: (half >> c) | smear, right: ((half - 1) >> c) + 1, mask: mask, step: 1}
		}
		cr.normalize()
		return true
	case pcode.CPUI_SUBPIECE:
		if !in2.IsSingle() || in2.left != 0 {
			return false
		}
		outMask := maskFromSize(outSize)
		if outMask == in1.mask {
			*cr = in1
			return true
		}
		if in1.left != in1.right && !in1.wraps() && in1.lastVal() <= outMask {
			*cr = CircleRange{left: in1.left, right: in1.right & outMask, mask: outMask, step: in1.step}
			cr.normalize()
			return true
		}
		if in1.step <= outMask {
			*cr = fullStride(outMask, in1.step, in1.left)
			return true
		}
		return false
	case pcode.CPUI_INT_AND:
		var c uint64
		var o CircleRange
		switch {
		case in1.IsSingle() && in2.IsSingle():
			*cr = NewSingleRange(in1.left&in2.left, outSize)
			return true
		case in1.IsSingle():
			c, o = in1.left, in2
		case in2.IsSingle():
			c, o = in2.left, in1
		default:
			return false
		}
		if c == 0 {
			*cr = NewSingleRange(0, outSize)
			return true
		}
		if c == o.mask {
			*cr = o
			return true
		}
		lb := uint64(1) << uint(bits.TrailingZeros64(c))
		*cr = CircleRange{left: 0, right: (c + lb) & o.mask, mask: o.mask, step: lb}
		cr.normalize()
		return true
	case pcode.CPUI_INT_OR:
		switch {
		case in1.IsSingle() && in2.IsSingle():
			*cr = NewSingleRange(in1.left|in2.left, outSize)
			return true
		case in1.IsSingle() && in1.left == 0:
			*cr = in2
			return true
		case in2.IsSingle() && in2.left == 0:
			*cr = in1
			return true
		}
		return false
	case pcode.CPUI_INT_XOR:
		switch {
		case in1.IsSingle() && in2.IsSingle():
			*cr = NewSingleRange(in1.left^in2.left, outSize)
			return true
		case in1.IsSingle() && in1.left == 0:
			*cr = in2
			return true
		case in2.IsSingle() && in2.left == 0:
			*cr = in1
			return true
		}
		return false
	case pcode.CPUI_INT_DIV:
		if in1.IsSingle() && in2.IsSingle() && in2.left != 0 {
			*cr = NewSingleRange(in1.left/in2.left, outSize)
			return true
		}
		return false
	}
	return false
}

// PushForwardTrinary computes the output range of a three-operand
// operation. PTRADD(base, index, scale) is defined as
// base + index*scale.
func (cr *CircleRange) PushForwardTrinary(opc pcode.OpCode, in1, in2, in3 CircleRange, inSize, outSize int, maxStep uint64) bool {
	if opc != pcode.CPUI_PTRADD {
		return false
	}
	var scaled CircleRange
	if !scaled.PushForwardBinary(pcode.CPUI_INT_MULT, in2, in3, inSize, outSize, maxStep) {
		return false
	}
	return cr.PushForwardBinary(pcode.CPUI_INT_ADD, in1, scaled, inSize, outSize, maxStep)
}
