package vsa

import (
	"github.com/relift/relift/config"
	"github.com/relift/relift/pcode"
)

// Analyze runs a complete value-set analysis, construction through
// fixpoint, with the solver tuned from cfg. The returned solver holds the
// per-node ranges and read projections.
func Analyze(sinks []*pcode.Varnode, reads []ReadSite, stackReg *pcode.Varnode, indirectAsCopy bool, cfg config.Config) *ValueSetSolver {
	vc := cfg.Valueset
	s := NewValueSetSolver()
	if vc.TraceSolver {
		s.EnableTrace()
	}

	var widener Widener
	if vc.QuickFreeze {
		w := NewWidenerNone()
		if vc.FreezeAt > 0 {
			w.FreezeIteration = vc.FreezeAt
		}
		widener = w
	} else {
		w := NewWidenerFull()
		if vc.WidenAt > 0 {
			w.WidenIteration = vc.WidenAt
		}
		if vc.FreezeAt > 0 {
			w.FullWidenIteration = vc.FreezeAt
		}
		widener = w
	}

	maxIter := vc.MaxIterations
	if maxIter <= 0 {
		maxIter = config.Default().Valueset.MaxIterations
	}
	s.EstablishValueSets(sinks, reads, stackReg, indirectAsCopy)
	s.Solve(maxIter, widener)
	return s
}
