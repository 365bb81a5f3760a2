package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func testInput(rows, cols int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(rows, cols, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.Float64()*2 - 1 }, x)
	return x
}

// loss is a fixed linear functional of the network output so its gradient
// with respect to the output is just weights.
func loss(out, weights *mat.Dense) float64 {
	var prod mat.Dense
	prod.MulElem(out, weights)
	return mat.Sum(&prod)
}

func TestMLPShapes(t *testing.T) {
	m := NewMLP([]int{4, 8, 3}, ReLU, Tanh, rand.NewSource(1))
	assert.Equal(t, 4, m.InSize())
	assert.Equal(t, 3, m.OutSize())
	assert.Len(t, m.Params(), 4)
	assert.Len(t, m.Grads(), 4)

	out := m.Predict(testInput(5, 4, 2))
	r, c := out.Dims()
	assert.Equal(t, 5, r)
	assert.Equal(t, 3, c)
	for _, v := range out.RawMatrix().Data {
		assert.LessOrEqual(t, v, 1.0)
		assert.GreaterOrEqual(t, v, -1.0)
	}

	assert.Panics(t, func() { m.Predict(testInput(5, 3, 2)) })
	assert.Panics(t, func() { NewMLP([]int{4}, ReLU, Tanh, nil) })
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	m := NewMLP([]int{3, 6, 5, 2}, Tanh, Tanh, rand.NewSource(3))
	// Larger output weights keep the finite differences well above noise.
	last := m.Layers[len(m.Layers)-1]
	last.W.Scale(100, last.W)

	x := testInput(4, 3, 4)
	weights := testInput(4, 2, 5)

	_, tape := m.Forward(x)
	m.ZeroGrad()
	gradIn := m.Backward(tape, weights)

	const h = 1e-6
	numeric := func(perturb func(delta float64)) float64 {
		perturb(h)
		up := loss(m.Predict(x), weights)
		perturb(-2 * h)
		down := loss(m.Predict(x), weights)
		perturb(h)
		return (up - down) / (2 * h)
	}

	for pi, p := range m.Params() {
		data := p.RawMatrix().Data
		grad := m.Grads()[pi].RawMatrix().Data
		for k := range data {
			want := numeric(func(d float64) { data[k] += d })
			require.InDelta(t, want, grad[k], 1e-5, "param %d element %d", pi, k)
		}
	}

	xd := x.RawMatrix().Data
	for k := range xd {
		want := numeric(func(d float64) { xd[k] += d })
		require.InDelta(t, want, gradIn.RawMatrix().Data[k], 1e-5, "input element %d", k)
	}
}

func TestReLUBackwardMasksInactiveUnits(t *testing.T) {
	m := NewMLP([]int{1, 1, 1}, ReLU, Linear, rand.NewSource(1))
	m.Layers[0].W.Set(0, 0, -1)
	m.Layers[0].B.Set(0, 0, 0)

	_, tape := m.Forward(mat.NewDense(1, 1, []float64{2}))
	gradIn := m.Backward(tape, mat.NewDense(1, 1, []float64{1}))
	assert.Equal(t, 0.0, gradIn.At(0, 0))
	assert.Equal(t, 0.0, m.Layers[0].GradW.At(0, 0))
}

func TestBackwardAccumulatesUntilZeroGrad(t *testing.T) {
	m := NewMLP([]int{2, 3, 1}, ReLU, Linear, rand.NewSource(9))
	x := testInput(2, 2, 10)
	g := mat.NewDense(2, 1, []float64{1, 1})

	_, tape := m.Forward(x)
	m.Backward(tape, g)
	once := mat.DenseCopyOf(m.Layers[1].GradW)
	m.Backward(tape, g)

	var twice mat.Dense
	twice.Scale(2, once)
	assert.True(t, mat.EqualApprox(&twice, m.Layers[1].GradW, 1e-12))

	m.ZeroGrad()
	for _, grad := range m.Grads() {
		assert.Equal(t, 0.0, mat.Sum(grad))
	}
}

func TestHardUpdateIsBitIdentical(t *testing.T) {
	active := NewMLP([]int{3, 4, 2}, ReLU, Tanh, rand.NewSource(1))
	target := NewMLP([]int{3, 4, 2}, ReLU, Tanh, rand.NewSource(2))

	HardUpdate(target, active)
	for i, p := range target.Params() {
		assert.Equal(t, active.Params()[i].RawMatrix().Data, p.RawMatrix().Data)
	}

	// The copy must not alias the active tensors.
	active.Layers[0].W.Set(0, 0, 42)
	assert.NotEqual(t, 42.0, target.Layers[0].W.At(0, 0))
}

func TestSoftUpdate(t *testing.T) {
	newPair := func() (*MLP, *MLP) {
		return NewMLP([]int{3, 4, 2}, ReLU, Tanh, rand.NewSource(1)),
			NewMLP([]int{3, 4, 2}, ReLU, Tanh, rand.NewSource(2))
	}

	active, target := newPair()
	SoftUpdate(target, active, 1)
	for i, p := range target.Params() {
		assert.Equal(t, active.Params()[i].RawMatrix().Data, p.RawMatrix().Data)
	}

	active, target = newPair()
	before := make([][]float64, 0)
	for _, p := range target.Params() {
		before = append(before, append([]float64(nil), p.RawMatrix().Data...))
	}
	SoftUpdate(target, active, 0)
	for i, p := range target.Params() {
		assert.Equal(t, before[i], p.RawMatrix().Data)
	}

	active, target = newPair()
	a0, t0 := active.Layers[0].W.At(1, 1), target.Layers[0].W.At(1, 1)
	SoftUpdate(target, active, 0.25)
	assert.InDelta(t, 0.25*a0+0.75*t0, target.Layers[0].W.At(1, 1), 1e-15)
}

func TestSyncPanicsOnMismatchedNetworks(t *testing.T) {
	a := NewMLP([]int{3, 4, 2}, ReLU, Tanh, rand.NewSource(1))
	b := NewMLP([]int{3, 5, 2}, ReLU, Tanh, rand.NewSource(1))
	assert.Panics(t, func() { HardUpdate(a, b) })
	assert.Panics(t, func() { SoftUpdate(a, b, 0.5) })
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	p := mat.NewDense(1, 3, []float64{1, -2, 3})
	g := mat.NewDense(1, 3, nil)
	opt := NewAdam(0.05, 0)

	for i := 0; i < 2000; i++ {
		// d/dp of 0.5*||p||^2
		g.Copy(p)
		opt.Step([]*mat.Dense{p}, []*mat.Dense{g})
	}
	assert.Less(t, floats.Norm(p.RawMatrix().Data, 2), 0.05)
}

func TestAdamWeightDecayShrinksWithZeroGradient(t *testing.T) {
	p := mat.NewDense(1, 1, []float64{1})
	g := mat.NewDense(1, 1, nil)
	opt := NewAdam(0.01, 0.1)

	opt.Step([]*mat.Dense{p}, []*mat.Dense{g})
	assert.Less(t, p.At(0, 0), 1.0)
}
