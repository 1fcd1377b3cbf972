package vsa

// Widener decides when a slowly converging ValueSet gets forcibly
// over-approximated. The solver consults it on every iteration of a node
// inside a cyclic component.
type Widener interface {
	// DetermineIterationReset returns the iteration count a node restarts
	// at when its enclosing partition is re-entered.
	DetermineIterationReset(vs *ValueSet) int

	// CheckFreeze reports whether the node's range is final and further
	// iteration is pointless.
	CheckFreeze(vs *ValueSet) bool

	// DoWidening commits newRange into rng, possibly pushed out to a wider
	// container. Returning false tells the caller to give up and set the
	// node to the full range.
	DoWidening(vs *ValueSet, rng *CircleRange, newRange CircleRange) bool
}

// WidenerFull widens precisely: below WidenIteration it commits computed
// ranges as-is; at WidenIteration it jumps the unstable boundary out to a
// branch-derived landmark when one fits; past FullWidenIteration it gives
// up and freezes the node at full.
type WidenerFull struct {
	WidenIteration     int
	FullWidenIteration int
}

// NewWidenerFull returns the default widening strategy.
func NewWidenerFull() WidenerFull {
	return WidenerFull{WidenIteration: 2, FullWidenIteration: 5}
}

func (w WidenerFull) DetermineIterationReset(vs *ValueSet) int {
	if vs.count >= w.WidenIteration {
		return w.WidenIteration // already widened, don't restart the countdown
	}
	return 0
}

func (w WidenerFull) CheckFreeze(vs *ValueSet) bool {
	return vs.rng.IsFull()
}

func (w WidenerFull) DoWidening(vs *ValueSet, rng *CircleRange, newRange CircleRange) bool {
	if vs.count < w.WidenIteration {
		*rng = newRange
		return true
	}
	if vs.count == w.WidenIteration {
		if landmark := vs.getLandMark(); landmark != nil {
			leftIsStable := rng.Min() == newRange.Min()
			if landmark.Contains(newRange) {
				*rng = newRange
				rng.Widen(*landmark, leftIsStable)
				return true
			}
			flipped := *landmark
			flipped.Complement()
			if flipped.Contains(newRange) {
				*rng = newRange
				rng.Widen(flipped, leftIsStable)
				return true
			}
		}
		// no usable landmark, keep iterating plainly
		*rng = newRange
		return true
	}
	if vs.count < w.FullWidenIteration {
		*rng = newRange
		return true
	}
	return false
}

// WidenerNone never widens toward a landmark; it simply freezes every node
// after a fixed number of iterations. Cheaper and less precise, used for
// quick analysis passes.
type WidenerNone struct {
	FreezeIteration int
}

// NewWidenerNone returns the quick freeze-only strategy.
func NewWidenerNone() WidenerNone {
	return WidenerNone{FreezeIteration: 3}
}

func (w WidenerNone) DetermineIterationReset(vs *ValueSet) int {
	if vs.count >= w.FreezeIteration {
		return w.FreezeIteration
	}
	return 0
}

func (w WidenerNone) CheckFreeze(vs *ValueSet) bool {
	if vs.rng.IsFull() {
		return true
	}
	return vs.count >= w.FreezeIteration
}

func (w WidenerNone) DoWidening(vs *ValueSet, rng *CircleRange, newRange CircleRange) bool {
	if vs.count < w.FreezeIteration {
		*rng = newRange
		return true
	}
	return false
}
