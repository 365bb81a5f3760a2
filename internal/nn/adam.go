package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam is the Adam optimizer with L2 weight decay folded into the gradient.
type Adam struct {
	LearnRate   float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m, v []*mat.Dense
}

func NewAdam(learnRate, weightDecay float64) *Adam {
	return &Adam{
		LearnRate:   learnRate,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

// Step applies one update to params from grads. The moment estimates are
// allocated on the first call and are tied to that parameter list.
func (a *Adam) Step(params, grads []*mat.Dense) {
	if a.m == nil {
		for _, p := range params {
			r, c := p.Dims()
			a.m = append(a.m, mat.NewDense(r, c, nil))
			a.v = append(a.v, mat.NewDense(r, c, nil))
		}
	}
	a.step++
	bias1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bias2 := math.Sqrt(1 - math.Pow(a.Beta2, float64(a.step)))
	stepSize := a.LearnRate / bias1

	for i, p := range params {
		pd := p.RawMatrix().Data
		gd := grads[i].RawMatrix().Data
		md := a.m[i].RawMatrix().Data
		vd := a.v[i].RawMatrix().Data
		for k := range pd {
			g := gd[k] + a.WeightDecay*pd[k]
			md[k] = a.Beta1*md[k] + (1-a.Beta1)*g
			vd[k] = a.Beta2*vd[k] + (1-a.Beta2)*g*g
			pd[k] -= stepSize * md[k] / (math.Sqrt(vd[k])/bias2 + a.Eps)
		}
	}
}
