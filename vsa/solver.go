package vsa

import (
	"github.com/bits-and-blooms/bitset"
	log "github.com/sirupsen/logrus"

	"github.com/relift/relift/pcode"
)

// ValueSetSolver owns one value-set analysis run: it builds the tracked
// subgraph backward from the requested sinks, derives branch constraints,
// lays out a weak topological order, and drives the fixpoint loop. All
// per-run state lives on the solver, never on the IR, so back-to-back runs
// over the same function cannot contaminate each other.
//
// EstablishValueSets must complete before Solve, and Solve before any
// range or read projection is queried.
type ValueSetSolver struct {
	valueSets  map[*pcode.Varnode]*ValueSet
	nodeList   []*ValueSet
	rootNodes  []*ValueSet
	order      []*ValueSet
	partitions []*Partition
	reads      []*ValueSetRead
	readNodes  map[readKey]*ValueSetRead

	numIterations int
	trace         bool
}

type readKey struct {
	op   *pcode.Op
	slot int
}

// NewValueSetSolver returns an empty solver ready for EstablishValueSets.
func NewValueSetSolver() *ValueSetSolver {
	return &ValueSetSolver{
		valueSets: make(map[*pcode.Varnode]*ValueSet),
		readNodes: make(map[readKey]*ValueSetRead),
	}
}

// EnableTrace turns on per-iteration debug logging.
func (s *ValueSetSolver) EnableTrace() { s.trace = true }

// NumIterations returns the node-iteration count of the last Solve.
func (s *ValueSetSolver) NumIterations() int { return s.numIterations }

func (s *ValueSetSolver) lookup(vn *pcode.Varnode) *ValueSet {
	return s.valueSets[vn]
}

// GetValueSet returns the solved state for vn, or nil when vn was not
// tracked.
func (s *ValueSetSolver) GetValueSet(vn *pcode.Varnode) *ValueSet {
	return s.lookup(vn)
}

// GetValueSetRead returns the projection for a registered read site, or
// nil.
func (s *ValueSetSolver) GetValueSetRead(op *pcode.Op, slot int) *ValueSetRead {
	return s.readNodes[readKey{op, slot}]
}

func (s *ValueSetSolver) newValueSet(vn *pcode.Varnode, typeCode int) *ValueSet {
	vs := &ValueSet{solver: s}
	vs.setVarnode(vn, typeCode)
	s.valueSets[vn] = vs
	s.nodeList = append(s.nodeList, vs)
	return vs
}

// EstablishValueSets builds the tracked subgraph by walking backward from
// sinks (and the optional stack register root) through defining
// operations. Opaque operations, calls, loads and floating point, stop the
// walk and become full-range roots. Read sites over tracked varnodes get a
// ValueSetRead. Branch constraints and the iteration order are derived
// last.
//
// indirectAsCopy treats INDIRECT effects as transparent copies of the
// overwritten value; otherwise INDIRECT outputs are opaque roots.
func (s *ValueSetSolver) EstablishValueSets(sinks []*pcode.Varnode, reads []ReadSite, stackReg *pcode.Varnode, indirectAsCopy bool) {
	s.valueSets = make(map[*pcode.Varnode]*ValueSet)
	s.nodeList = s.nodeList[:0]
	s.rootNodes = s.rootNodes[:0]
	s.order = s.order[:0]
	s.partitions = s.partitions[:0]
	s.reads = s.reads[:0]
	s.readNodes = make(map[readKey]*ValueSetRead)
	s.numIterations = 0

	var worklist []*pcode.Varnode
	track := func(vn *pcode.Varnode, typeCode int) *ValueSet {
		if vs := s.lookup(vn); vs != nil {
			return vs
		}
		vs := s.newValueSet(vn, typeCode)
		worklist = append(worklist, vn)
		return vs
	}

	if stackReg != nil {
		vs := track(stackReg, TypeRelative)
		s.rootNodes = append(s.rootNodes, vs)
	}
	for _, vn := range sinks {
		if vn.IsConstant() {
			continue
		}
		track(vn, TypeAbsolute)
	}
	for _, r := range reads {
		if r.Slot >= r.Op.NumInputs() {
			continue
		}
		vn := r.Op.Input(r.Slot)
		if vn.IsConstant() {
			continue
		}
		track(vn, TypeAbsolute)
	}

	for pos := 0; pos < len(worklist); pos++ {
		vn := worklist[pos]
		vs := s.lookup(vn)
		if vs.typeCode != TypeAbsolute {
			continue // relative roots are not traced further
		}
		op := vn.Def
		if op == nil {
			s.rootNodes = append(s.rootNodes, vs)
			continue
		}
		opaque := op.IsCall() || op.Code == pcode.CPUI_LOAD || op.Code.IsFloat()
		if op.Code == pcode.CPUI_INDIRECT && !indirectAsCopy {
			opaque = true
		}
		if opaque {
			vs.setFull()
			vs.opCode = pcode.CPUI_MAX
			vs.numParams = 0
			vs.leftIsStable = false
			vs.rightIsStable = false
			s.rootNodes = append(s.rootNodes, vs)
			continue
		}
		for i := 0; i < vs.numParams; i++ {
			in := op.Input(i)
			if in.IsConstant() {
				continue
			}
			track(in, TypeAbsolute)
		}
	}

	for _, r := range reads {
		if r.Slot >= r.Op.NumInputs() {
			continue
		}
		key := readKey{r.Op, r.Slot}
		if _, ok := s.readNodes[key]; ok {
			continue
		}
		rd := &ValueSetRead{op: r.Op, slot: r.Slot}
		s.reads = append(s.reads, rd)
		s.readNodes[key] = rd
	}

	s.generateConstraints()
	s.establishTopologicalOrder()
	if s.trace {
		log.Debugf("value-set analysis: %d nodes, %d roots, %d partitions",
			len(s.nodeList), len(s.rootNodes), len(s.partitions))
	}
}

// generateConstraints finds every two-way conditional branch dominating a
// tracked definition or read site and tries to pull its condition back to
// a tracked varnode, attaching the resulting true/false ranges as
// equations.
func (s *ValueSetSolver) generateConstraints() {
	seen := bitset.New(64)
	var cbranches []*pcode.Op
	collect := func(bl *pcode.Block) {
		for bl != nil && !seen.Test(uint(bl.Index)) {
			seen.Set(uint(bl.Index))
			if len(bl.Out) == 2 {
				if last := bl.LastOp(); last != nil && last.Code == pcode.CPUI_CBRANCH {
					cbranches = append(cbranches, last)
				}
			}
			bl = bl.Idom
		}
	}
	for _, vs := range s.nodeList {
		if vs.vn.Def != nil {
			collect(vs.vn.Def.Parent)
		}
	}
	for _, rd := range s.reads {
		collect(rd.op.Parent)
	}
	for _, cbranch := range cbranches {
		s.constraintsFromCBranch(cbranch)
	}
}

func (s *ValueSetSolver) constraintsFromCBranch(cbranch *pcode.Op) {
	if cbranch.NumInputs() < 2 {
		return
	}
	cond := cbranch.Input(1)
	if cond.IsConstant() {
		return
	}
	trueRange := NewSingleRange(1, cond.Size)
	falseRange := NewSingleRange(0, cond.Size)
	s.constraintsFromPath(TypeAbsolute, trueRange, falseRange, cond, cbranch)
}

// constraintsFromPath pulls the pair of branch-sense ranges backward
// through the defining chain of vn until a tracked varnode is reached,
// then applies them. The chain may cross one comparison and any number of
// unary or constant-operand binary operations.
func (s *ValueSetSolver) constraintsFromPath(typeCode int, trueRange, falseRange CircleRange, vn *pcode.Varnode, cbranch *pcode.Op) {
	for {
		if s.lookup(vn) != nil {
			s.applyConstraints(vn, typeCode, trueRange, falseRange, cbranch)
			return
		}
		op := vn.Def
		if op == nil {
			return
		}
		switch op.NumInputs() {
		case 1:
			inSize := op.Input(0).Size
			if !trueRange.PullBackUnary(op.Code, inSize, vn.Size) {
				return
			}
			if !falseRange.PullBackUnary(op.Code, inSize, vn.Size) {
				return
			}
			vn = op.Input(0)
		case 2:
			var slot int
			switch {
			case op.Input(0).IsConstant():
				slot = 1
			case op.Input(1).IsConstant():
				slot = 0
			default:
				if typeCode == TypeAbsolute {
					s.generateRelativeConstraint(op, cbranch)
				}
				return
			}
			c := op.Input(1 - slot).Offset
			inSize := op.Input(slot).Size
			if !trueRange.PullBackBinary(op.Code, c, slot, inSize, vn.Size) {
				return
			}
			if !falseRange.PullBackBinary(op.Code, c, slot, inSize, vn.Size) {
				return
			}
			vn = op.Input(slot)
		default:
			return
		}
		if trueRange.IsFull() && falseRange.IsFull() {
			return // nothing left to say
		}
	}
}

// relativeConstant recognizes a varnode holding stackbase + k, returning
// the offset k. ok is false when vn is not spacebase-relative.
func relativeConstant(vn *pcode.Varnode) (k uint64, base *pcode.Varnode, ok bool) {
	if vn.IsSpacebase() {
		return 0, vn, true
	}
	op := vn.Def
	if op == nil || op.NumInputs() != 2 {
		return 0, nil, false
	}
	if op.Code != pcode.CPUI_INT_ADD && op.Code != pcode.CPUI_PTRSUB {
		return 0, nil, false
	}
	for slot := 0; slot < 2; slot++ {
		b := op.Input(slot)
		c := op.Input(1 - slot)
		if b.IsSpacebase() && c.IsConstant() {
			return c.Offset, b, true
		}
	}
	return 0, nil, false
}

// generateRelativeConstraint handles comparisons where neither operand is
// a literal constant, but one side reduces to stackbase + k. The
// comparison then constrains the other side as a stack-relative range.
// Unsigned orderings are reinterpreted as signed, since stack offsets live
// on both sides of zero.
func (s *ValueSetSolver) generateRelativeConstraint(compOp *pcode.Op, cbranch *pcode.Op) {
	opc := compOp.Code
	switch opc {
	case pcode.CPUI_INT_LESS:
		opc = pcode.CPUI_INT_SLESS
	case pcode.CPUI_INT_LESSEQUAL:
		opc = pcode.CPUI_INT_SLESSEQUAL
	case pcode.CPUI_INT_SLESS, pcode.CPUI_INT_SLESSEQUAL,
		pcode.CPUI_INT_EQUAL, pcode.CPUI_INT_NOTEQUAL:
	default:
		return
	}
	var k uint64
	var slot int
	if off, _, ok := relativeConstant(compOp.Input(0)); ok {
		k, slot = off, 1
	} else if off, _, ok := relativeConstant(compOp.Input(1)); ok {
		k, slot = off, 0
	} else {
		return
	}
	endVn := compOp.Input(slot)
	inSize := endVn.Size
	outSize := compOp.Out.Size
	trueRange := NewSingleRange(1, outSize)
	falseRange := NewSingleRange(0, outSize)
	if !trueRange.PullBackBinary(opc, k, slot, inSize, outSize) {
		return
	}
	if !falseRange.PullBackBinary(opc, k, slot, inSize, outSize) {
		return
	}
	s.constraintsFromPath(TypeRelative, trueRange, falseRange, endVn, cbranch)
}

// applyConstraints attaches the branch-sense ranges of vn to everything
// the branch actually guards: a landmark on vn's own value set for
// widening, slot equations on guarded tracked operations reading vn, and
// local equations on guarded read sites.
func (s *ValueSetSolver) applyConstraints(vn *pcode.Varnode, typeCode int, trueRange, falseRange CircleRange, cbranch *pcode.Op) {
	split := cbranch.Parent
	if split == nil || len(split.Out) != 2 {
		return
	}
	if vs := s.lookup(vn); vs != nil && vn.Def != nil {
		vs.addLandmark(typeCode, trueRange)
	}
	s.constrainUses(vn, typeCode, trueRange, split.TrueOut(), split)
	s.constrainUses(vn, typeCode, falseRange, split.FalseOut(), split)
}

func (s *ValueSetSolver) constrainUses(vn *pcode.Varnode, typeCode int, rng CircleRange, guard *pcode.Block, split *pcode.Block) {
	if guard == nil || !guard.RestrictedByConditional(split) {
		return
	}
	for _, op := range vn.Descend {
		if op.Out == nil {
			continue
		}
		vs := s.lookup(op.Out)
		if vs == nil {
			continue
		}
		if op.Code == pcode.CPUI_MULTIEQUAL {
			// the constraint holds on an incoming edge when the whole path
			// from the guard reaches it
			for slot := 0; slot < op.NumInputs(); slot++ {
				if op.Input(slot) != vn {
					continue
				}
				if slot < len(op.Parent.In) && guard.Dominates(op.Parent.In[slot]) {
					vs.addEquation(slot, typeCode, rng)
				}
			}
		} else if guard.Dominates(op.Parent) {
			if slot := op.Slot(vn); slot >= 0 && slot < vs.numParams {
				vs.addEquation(slot, typeCode, rng)
			}
		}
	}
	for _, rd := range s.reads {
		if rd.op.Input(rd.slot) == vn && guard.Dominates(rd.op.Parent) {
			rd.addEquation(typeCode, rng)
		}
	}
}

// Solve runs the fixpoint loop over the established order. Each cyclic
// partition is re-entered until clean; changes propagate dirtiness to
// every enclosing partition. The loop hard-stops after maxIterations node
// iterations; widening, not this cap, is what makes convergence the
// normal outcome. Read projections are computed on exit.
func (s *ValueSetSolver) Solve(maxIterations int, widener Widener) {
	for _, vs := range s.nodeList {
		vs.count = 0
	}
	for _, p := range s.partitions {
		p.isDirty = false
	}

	var stack []*Partition
	var cur *Partition
	numIter := 0
	i := 0
	for i < len(s.order) {
		if numIter >= maxIterations {
			if s.trace {
				log.Debugf("value-set solve: iteration cap %d hit", maxIterations)
			}
			break
		}
		vs := s.order[i]
		if vs.partHead != nil && vs.partHead != cur {
			stack = append(stack, cur)
			cur = vs.partHead
			cur.isDirty = false
			vs.count = widener.DetermineIterationReset(vs)
		}
		if vs.iterate(widener) {
			if s.trace {
				log.Debugf("value-set solve: %s (iter %d)", vs, numIter)
			}
			if cur != nil {
				cur.isDirty = true
			}
			for _, p := range stack {
				if p != nil {
					p.isDirty = true
				}
			}
		}
		numIter++

		rewound := false
		for cur != nil && i == cur.stop {
			if cur.isDirty {
				cur.isDirty = false
				i = cur.start
				rewound = true
				break
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		if !rewound {
			i++
		}
	}
	s.numIterations = numIter

	for _, rd := range s.reads {
		rd.compute(s)
	}
}
