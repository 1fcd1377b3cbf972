package pcode

import "fmt"

// Varnode is a value-carrying location: a constant, a function input, or
// the output of an operation. The analysis passes treat varnodes as
// read-only facts.
type Varnode struct {
	// Index is a dense identifier unique within the owning function.
	Index int
	// Size of the value in bytes, at most 8.
	Size int
	// Offset holds the value when the varnode is a constant.
	Offset uint64
	// Def is the operation producing this varnode, or nil for constants
	// and inputs.
	Def *Op
	// Descend lists the operations reading this varnode.
	Descend []*Op

	constant bool
	input    bool
	spacebase bool
	nzMask   uint64
}

// IsConstant reports whether the varnode is a literal constant.
func (vn *Varnode) IsConstant() bool { return vn.constant }

// IsInput reports whether the varnode is an externally defined input to the
// function.
func (vn *Varnode) IsInput() bool { return vn.input }

// IsFree reports whether the varnode has no defining operation.
func (vn *Varnode) IsFree() bool { return vn.Def == nil }

// IsSpacebase reports whether the varnode is a register used as the base of
// an address space, typically the incoming stack pointer.
func (vn *Varnode) IsSpacebase() bool { return vn.spacebase }

// NZMask returns the known-zero bitmask for the varnode: a value the
// varnode holds can have a bit set only where the mask has one.
func (vn *Varnode) NZMask() uint64 { return vn.nzMask }

// SetNZMask records a known-zero bitmask computed by an earlier pass.
func (vn *Varnode) SetNZMask(mask uint64) { vn.nzMask = mask }

func (vn *Varnode) String() string {
	if vn.constant {
		return fmt.Sprintf("#%#x:%d", vn.Offset, vn.Size)
	}
	return fmt.Sprintf("v%d:%d", vn.Index, vn.Size)
}

// Op is a single p-code operation.
type Op struct {
	// Index is a dense identifier unique within the owning function.
	Index  int
	Code   OpCode
	In     []*Varnode
	Out    *Varnode
	Parent *Block
}

// NumInputs returns the operand count.
func (op *Op) NumInputs() int { return len(op.In) }

// Input returns the operand in the given slot.
func (op *Op) Input(slot int) *Varnode { return op.In[slot] }

// Slot returns the first input slot holding vn, or -1.
func (op *Op) Slot(vn *Varnode) int {
	for i, in := range op.In {
		if in == vn {
			return i
		}
	}
	return -1
}

// IsCall reports whether the operation calls another function.
func (op *Op) IsCall() bool { return op.Code.IsCall() }

func (op *Op) String() string {
	s := op.Code.String()
	if op.Out != nil {
		s = op.Out.String() + " = " + s
	}
	for _, in := range op.In {
		s += " " + in.String()
	}
	return s
}

// Block is a basic block. In and Out edge order is significant: a
// MULTIEQUAL's input slots correspond one to one with the block's in-edges.
type Block struct {
	Index int
	In    []*Block
	Out   []*Block
	Ops   []*Op
	// Idom is the immediate dominator, nil for the entry block.
	Idom *Block

	domDepth int
}

// LastOp returns the block's terminating operation, or nil.
func (b *Block) LastOp() *Op {
	if len(b.Ops) == 0 {
		return nil
	}
	return b.Ops[len(b.Ops)-1]
}

// TrueOut returns the successor taken when a terminating CBRANCH condition
// is non-zero. By convention out-edge 1 is the branch-taken edge.
func (b *Block) TrueOut() *Block { return b.Out[1] }

// FalseOut returns the fall-through successor of a terminating CBRANCH.
func (b *Block) FalseOut() *Block { return b.Out[0] }

// Dominates reports whether b dominates other. A block dominates itself.
func (b *Block) Dominates(other *Block) bool {
	for other != nil && other.domDepth >= b.domDepth {
		if other == b {
			return true
		}
		other = other.Idom
	}
	return false
}

// RestrictedByConditional reports whether every path into b passes through
// the terminating conditional branch of cond. This is the gate for deriving
// branch constraints: a successor with side entries cannot restrict values.
func (b *Block) RestrictedByConditional(cond *Block) bool {
	for _, in := range b.In {
		if in != cond {
			return false
		}
	}
	return len(b.In) > 0
}

// Function holds one function's worth of IR.
type Function struct {
	Blocks   []*Block
	Varnodes []*Varnode
	OpCount  int
}

// NewFunction returns an empty function container.
func NewFunction() *Function {
	return &Function{}
}

// NewBlock appends a new empty basic block.
func (f *Function) NewBlock() *Block {
	b := &Block{Index: len(f.Blocks)}
	f.Blocks = append(f.Blocks, b)
	return b
}

// AddEdge records a control flow edge from a to b. Edge insertion order
// determines MULTIEQUAL slot order on b and branch sense on a.
func (f *Function) AddEdge(a, b *Block) {
	a.Out = append(a.Out, b)
	b.In = append(b.In, a)
}

func (f *Function) newVarnode(size int) *Varnode {
	vn := &Varnode{Index: len(f.Varnodes), Size: size}
	f.Varnodes = append(f.Varnodes, vn)
	return vn
}

// NewConstant returns a constant varnode of the given size.
func (f *Function) NewConstant(size int, val uint64) *Varnode {
	vn := f.newVarnode(size)
	vn.constant = true
	vn.Offset = val
	vn.nzMask = val
	return vn
}

// NewInput returns an externally defined input varnode.
func (f *Function) NewInput(size int) *Varnode {
	vn := f.newVarnode(size)
	vn.input = true
	vn.nzMask = ^uint64(0)
	return vn
}

// NewSpacebase returns an input varnode marked as an address space base
// register (the stack pointer).
func (f *Function) NewSpacebase(size int) *Varnode {
	vn := f.NewInput(size)
	vn.spacebase = true
	return vn
}

// NewUnique returns a varnode with no special properties, to be defined by
// an operation.
func (f *Function) NewUnique(size int) *Varnode {
	vn := f.newVarnode(size)
	vn.nzMask = ^uint64(0)
	return vn
}

// NewOp appends an operation to block b, wiring def and descendant links.
// out may be nil for operations without an output.
func (f *Function) NewOp(b *Block, code OpCode, out *Varnode, in ...*Varnode) *Op {
	op := &Op{Index: f.OpCount, Code: code, In: in, Out: out, Parent: b}
	f.OpCount++
	b.Ops = append(b.Ops, op)
	if out != nil {
		out.Def = op
	}
	for _, vn := range in {
		vn.Descend = append(vn.Descend, op)
	}
	return op
}

// ComputeDominators fills in the immediate dominator of every block using
// the iterative data-flow formulation. Blocks[0] is taken as the entry.
func (f *Function) ComputeDominators() {
	if len(f.Blocks) == 0 {
		return
	}
	post := f.postorder()
	rpoIndex := make([]int, len(f.Blocks))
	for i := range post {
		rpoIndex[post[len(post)-1-i].Index] = i
	}
	entry := f.Blocks[0]
	entry.Idom = nil
	changed := true
	for changed {
		changed = false
		// reverse postorder
		for i := len(post) - 1; i >= 0; i-- {
			b := post[i]
			if b == entry {
				continue
			}
			var idom *Block
			for _, p := range b.In {
				if p == entry || p.Idom != nil {
					if idom == nil {
						idom = p
					} else {
						idom = intersectDom(idom, p, rpoIndex)
					}
				}
			}
			if idom != nil && b.Idom != idom {
				b.Idom = idom
				changed = true
			}
		}
	}
	for _, b := range f.Blocks {
		d := 0
		for p := b.Idom; p != nil; p = p.Idom {
			d++
		}
		b.domDepth = d
	}
}

func intersectDom(a, b *Block, rpoIndex []int) *Block {
	for a != b {
		for rpoIndex[a.Index] > rpoIndex[b.Index] {
			if a.Idom == nil {
				return a
			}
			a = a.Idom
		}
		for rpoIndex[b.Index] > rpoIndex[a.Index] {
			if b.Idom == nil {
				return b
			}
			b = b.Idom
		}
	}
	return a
}

func (f *Function) postorder() []*Block {
	seen := make([]bool, len(f.Blocks))
	var order []*Block
	type frame struct {
		b *Block
		i int
	}
	stack := []frame{{f.Blocks[0], 0}}
	seen[f.Blocks[0].Index] = true
	for len(stack) > 0 {
		fr := &stack[len(stack)-1]
		if fr.i < len(fr.b.Out) {
			s := fr.b.Out[fr.i]
			fr.i++
			if !seen[s.Index] {
				seen[s.Index] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		order = append(order, fr.b)
		stack = stack[:len(stack)-1]
	}
	return order
}
