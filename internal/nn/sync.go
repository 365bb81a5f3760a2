package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Parameterized is anything exposing its parameter tensors in a stable order.
type Parameterized interface {
	Params() []*mat.Dense
}

// HardUpdate overwrites every target parameter with the active parameter.
func HardUpdate(target, active Parameterized) {
	tp, ap := pairParams(target, active)
	for i := range tp {
		tp[i].Copy(ap[i])
	}
}

// SoftUpdate blends every target parameter toward the active one:
// target = tau*active + (1-tau)*target.
func SoftUpdate(target, active Parameterized, tau float64) {
	tp, ap := pairParams(target, active)
	for i := range tp {
		var blended mat.Dense
		blended.Scale(tau, ap[i])
		tp[i].Scale(1-tau, tp[i])
		tp[i].Add(tp[i], &blended)
	}
}

func pairParams(target, active Parameterized) ([]*mat.Dense, []*mat.Dense) {
	tp, ap := target.Params(), active.Params()
	if len(tp) != len(ap) {
		panic(fmt.Sprintf("nn: target has %d parameter tensors, active has %d", len(tp), len(ap)))
	}
	for i := range tp {
		tr, tc := tp[i].Dims()
		ar, ac := ap[i].Dims()
		if tr != ar || tc != ac {
			panic(fmt.Sprintf("nn: parameter %d shape %dx%d does not match %dx%d", i, tr, tc, ar, ac))
		}
	}
	return tp, ap
}
