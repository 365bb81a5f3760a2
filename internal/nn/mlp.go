// Package nn provides the small fully connected networks and the optimizer
// the actors and critics are built from. Gradients are computed by explicit
// backpropagation over a Tape recorded during Forward.
package nn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type Activation int

const (
	Linear Activation = iota
	ReLU
	Tanh
)

// finalInit bounds the uniform init of the output layer so initial policy
// and value outputs start near zero.
const finalInit = 3e-3

// Dense is a fully connected layer computing x*W + B.
type Dense struct {
	W, B         *mat.Dense // W: in x out, B: 1 x out
	GradW, GradB *mat.Dense
}

func newDense(in, out int, bound float64, src rand.Source) *Dense {
	init := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	w := make([]float64, in*out)
	for i := range w {
		w[i] = init.Rand()
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = init.Rand()
	}
	return &Dense{
		W:     mat.NewDense(in, out, w),
		B:     mat.NewDense(1, out, b),
		GradW: mat.NewDense(in, out, nil),
		GradB: mat.NewDense(1, out, nil),
	}
}

// MLP is a stack of Dense layers with one activation for hidden layers and
// another for the output layer.
type MLP struct {
	Layers []*Dense
	Hidden Activation
	Output Activation
}

// NewMLP builds a network with the given layer sizes, input first and output
// last. Hidden layers use fan-in uniform init; the output layer uses a small
// fixed bound.
func NewMLP(sizes []int, hidden, output Activation, src rand.Source) *MLP {
	if len(sizes) < 2 {
		panic(fmt.Sprintf("nn: need at least input and output sizes, got %v", sizes))
	}
	m := &MLP{Hidden: hidden, Output: output}
	for i := 0; i < len(sizes)-1; i++ {
		bound := 1 / math.Sqrt(float64(sizes[i]))
		if i == len(sizes)-2 {
			bound = finalInit
		}
		m.Layers = append(m.Layers, newDense(sizes[i], sizes[i+1], bound, src))
	}
	return m
}

func (m *MLP) InSize() int {
	r, _ := m.Layers[0].W.Dims()
	return r
}

func (m *MLP) OutSize() int {
	_, c := m.Layers[len(m.Layers)-1].W.Dims()
	return c
}

// Tape records the per-layer inputs and activated outputs of one Forward.
type Tape struct {
	inputs  []*mat.Dense
	outputs []*mat.Dense
}

// Forward evaluates x (batch x in) and records what Backward needs.
func (m *MLP) Forward(x mat.Matrix) (*mat.Dense, *Tape) {
	r, c := x.Dims()
	if c != m.InSize() {
		panic(fmt.Sprintf("nn: input has %d columns, network expects %d", c, m.InSize()))
	}
	tape := &Tape{}
	h := mat.DenseCopyOf(x)
	for i, layer := range m.Layers {
		_, out := layer.W.Dims()
		next := mat.NewDense(r, out, nil)
		next.Mul(h, layer.W)
		bias := layer.B.RawRowView(0)
		for row := 0; row < r; row++ {
			floats.Add(next.RawRowView(row), bias)
		}
		act := m.Hidden
		if i == len(m.Layers)-1 {
			act = m.Output
		}
		activate(next, act)
		tape.inputs = append(tape.inputs, h)
		tape.outputs = append(tape.outputs, next)
		h = next
	}
	return h, tape
}

// Predict evaluates x without keeping a tape. It does not mutate the network
// and is safe to call concurrently with other Predict calls.
func (m *MLP) Predict(x mat.Matrix) *mat.Dense {
	out, _ := m.Forward(x)
	return out
}

// Backward propagates grad (dLoss/dOutput) through the recorded Forward,
// accumulates parameter gradients and returns dLoss/dInput.
func (m *MLP) Backward(tape *Tape, grad *mat.Dense) *mat.Dense {
	g := mat.DenseCopyOf(grad)
	for i := len(m.Layers) - 1; i >= 0; i-- {
		layer := m.Layers[i]
		act := m.Hidden
		if i == len(m.Layers)-1 {
			act = m.Output
		}
		derive(g, tape.outputs[i], act)

		var gw mat.Dense
		gw.Mul(tape.inputs[i].T(), g)
		layer.GradW.Add(layer.GradW, &gw)

		gb := layer.GradB.RawRowView(0)
		rows, _ := g.Dims()
		for row := 0; row < rows; row++ {
			floats.Add(gb, g.RawRowView(row))
		}

		in, _ := layer.W.Dims()
		next := mat.NewDense(rows, in, nil)
		next.Mul(g, layer.W.T())
		g = next
	}
	return g
}

func (m *MLP) ZeroGrad() {
	for _, layer := range m.Layers {
		layer.GradW.Zero()
		layer.GradB.Zero()
	}
}

// Params lists every parameter tensor in a stable order.
func (m *MLP) Params() []*mat.Dense {
	params := make([]*mat.Dense, 0, 2*len(m.Layers))
	for _, layer := range m.Layers {
		params = append(params, layer.W, layer.B)
	}
	return params
}

// Grads lists the gradient tensors aligned with Params.
func (m *MLP) Grads() []*mat.Dense {
	grads := make([]*mat.Dense, 0, 2*len(m.Layers))
	for _, layer := range m.Layers {
		grads = append(grads, layer.GradW, layer.GradB)
	}
	return grads
}

func activate(x *mat.Dense, act Activation) {
	switch act {
	case ReLU:
		x.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, x)
	case Tanh:
		x.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, x)
	}
}

// derive multiplies g in place by the activation derivative, expressed in
// terms of the activated output y.
func derive(g, y *mat.Dense, act Activation) {
	switch act {
	case ReLU:
		g.Apply(func(i, j int, v float64) float64 {
			if y.At(i, j) > 0 {
				return v
			}
			return 0
		}, g)
	case Tanh:
		g.Apply(func(i, j int, v float64) float64 {
			out := y.At(i, j)
			return v * (1 - out*out)
		}, g)
	}
}
