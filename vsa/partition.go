package vsa

import (
	"github.com/bits-and-blooms/bitset"
)

// Partition is a contiguous run of the iteration order that forms one
// cyclic component. The solver re-enters start whenever the run is dirty
// at stop. Partitions nest: an inner run lies strictly inside its
// enclosing run.
type Partition struct {
	start, stop int
	isDirty     bool
}

// successors returns the tracked value sets computed directly from vs,
// restricted to the given membership set when member is non-nil.
func (s *ValueSetSolver) successors(vs *ValueSet, member *bitset.BitSet) []*ValueSet {
	var succ []*ValueSet
	for _, op := range vs.vn.Descend {
		out := op.Out
		if out == nil {
			continue
		}
		next := s.lookup(out)
		if next == nil {
			continue
		}
		if member != nil && !member.Test(uint(out.Index)) {
			continue
		}
		succ = append(succ, next)
	}
	return succ
}

func (s *ValueSetSolver) hasSelfLoop(vs *ValueSet) bool {
	for _, op := range vs.vn.Descend {
		if op.Out == vs.vn {
			return true
		}
	}
	return false
}

// strongComponents runs an iterative Tarjan traversal over the given
// nodes, following dataflow successors restricted to member (when
// non-nil). Components come back in reverse topological order; the last
// element of each component is its traversal root.
func (s *ValueSetSolver) strongComponents(nodes []*ValueSet, member *bitset.BitSet) [][]*ValueSet {
	idx := make(map[*ValueSet]int, len(nodes))
	low := make(map[*ValueSet]int, len(nodes))
	onStack := bitset.New(64)
	var stack []*ValueSet
	var comps [][]*ValueSet
	counter := 0

	type frame struct {
		vs   *ValueSet
		succ []*ValueSet
		pos  int
	}
	for _, root := range nodes {
		if _, seen := idx[root]; seen {
			continue
		}
		idx[root], low[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack.Set(uint(root.vn.Index))
		frames := []*frame{{vs: root, succ: s.successors(root, member)}}
		for len(frames) > 0 {
			f := frames[len(frames)-1]
			if f.pos < len(f.succ) {
				w := f.succ[f.pos]
				f.pos++
				if _, seen := idx[w]; !seen {
					idx[w], low[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack.Set(uint(w.vn.Index))
					frames = append(frames, &frame{vs: w, succ: s.successors(w, member)})
				} else if onStack.Test(uint(w.vn.Index)) {
					if idx[w] < low[f.vs] {
						low[f.vs] = idx[w]
					}
				}
				continue
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				p := frames[len(frames)-1].vs
				if low[f.vs] < low[p] {
					low[p] = low[f.vs]
				}
			}
			if low[f.vs] == idx[f.vs] {
				var comp []*ValueSet
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack.Clear(uint(w.vn.Index))
					comp = append(comp, w)
					if w == f.vs {
						break
					}
				}
				comps = append(comps, comp)
			}
		}
	}
	return comps
}

// establishTopologicalOrder lays out every tracked value set in a weak
// topological order: definitions before uses, with each cyclic component
// emitted as a contiguous Partition run headed by its traversal root, and
// inner cycles nested as sub-partitions inside it.
func (s *ValueSetSolver) establishTopologicalOrder() {
	s.order = s.order[:0]
	s.partitions = s.partitions[:0]

	// roots first so the traversal flows in the dataflow direction
	nodes := make([]*ValueSet, 0, len(s.nodeList))
	nodes = append(nodes, s.rootNodes...)
	seen := bitset.New(64)
	for _, vs := range s.rootNodes {
		seen.Set(uint(vs.vn.Index))
	}
	for _, vs := range s.nodeList {
		if !seen.Test(uint(vs.vn.Index)) {
			nodes = append(nodes, vs)
		}
	}

	comps := s.strongComponents(nodes, nil)
	for i := len(comps) - 1; i >= 0; i-- {
		s.emitComponent(comps[i])
	}
}

// emitComponent appends one strongly connected component to the iteration
// order. Multi-node components (and self-loops) become a Partition: the
// component root goes first, then the rest of the component is
// re-decomposed with the root removed, which surfaces any nested cycles
// as their own partitions.
func (s *ValueSetSolver) emitComponent(comp []*ValueSet) {
	head := comp[len(comp)-1]
	if len(comp) == 1 && !s.hasSelfLoop(head) {
		s.order = append(s.order, head)
		return
	}
	part := &Partition{start: len(s.order)}
	head.partHead = part
	for _, vs := range comp {
		vs.inCycle = true
	}
	s.order = append(s.order, head)

	member := bitset.New(64)
	rest := make([]*ValueSet, 0, len(comp)-1)
	for _, vs := range comp {
		if vs != head {
			member.Set(uint(vs.vn.Index))
			rest = append(rest, vs)
		}
	}
	if len(rest) > 0 {
		// enter the body the way the cycle does, through the head's edges
		entry := make([]*ValueSet, 0, len(rest))
		for _, w := range s.successors(head, member) {
			entry = append(entry, w)
		}
		for _, vs := range rest {
			entry = append(entry, vs)
		}
		sub := s.strongComponents(entry, member)
		for i := len(sub) - 1; i >= 0; i-- {
			s.emitComponent(sub[i])
		}
	}
	part.stop = len(s.order) - 1
	s.partitions = append(s.partitions, part)
}
