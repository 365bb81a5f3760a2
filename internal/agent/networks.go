package agent

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mad4pg/internal/distrib"
	"mad4pg/internal/nn"
)

// Network is the trainable surface shared by actors and critics.
type Network interface {
	Params() []*mat.Dense
	Grads() []*mat.Dense
	ZeroGrad()
}

// Actor maps a batch of one agent's observations to a batch of actions in [-1, 1].
type Actor interface {
	Network
	Forward(obs mat.Matrix) (*mat.Dense, *nn.Tape)
	Predict(obs mat.Matrix) *mat.Dense
	Backward(tape *nn.Tape, grad *mat.Dense) *mat.Dense
}

// Critic maps joint observations and joint actions to a histogram over the
// value atoms, as probabilities or, with log set, log-probabilities.
type Critic interface {
	Network
	Forward(obs, actions mat.Matrix, log bool) (*mat.Dense, *CriticTape)
	Backward(tape *CriticTape, grad *mat.Dense) (gradObs, gradActions *mat.Dense)
}

// NewActorNet builds an MLP actor with ReLU hidden layers and a tanh head.
func NewActorNet(layerSizes []int, stateSize, actionSize int, src rand.Source) *nn.MLP {
	sizes := append([]int{stateSize}, layerSizes...)
	sizes = append(sizes, actionSize)
	return nn.NewMLP(sizes, nn.ReLU, nn.Tanh, src)
}

// CriticNet is an MLP over the concatenated joint observation and action,
// followed by a softmax over the atoms.
type CriticNet struct {
	*nn.MLP
	obsSize    int
	actionSize int
}

func NewCriticNet(layerSizes []int, obsSize, actionSize, numAtoms int, src rand.Source) *CriticNet {
	sizes := append([]int{obsSize + actionSize}, layerSizes...)
	sizes = append(sizes, numAtoms)
	return &CriticNet{
		MLP:        nn.NewMLP(sizes, nn.ReLU, nn.Linear, src),
		obsSize:    obsSize,
		actionSize: actionSize,
	}
}

// CriticTape is what CriticNet.Backward needs from a Forward call.
type CriticTape struct {
	mlp   *nn.Tape
	probs *mat.Dense
	log   bool
}

func (c *CriticNet) Forward(obs, actions mat.Matrix, log bool) (*mat.Dense, *CriticTape) {
	or, oc := obs.Dims()
	ar, ac := actions.Dims()
	if oc != c.obsSize || ac != c.actionSize || or != ar {
		panic(fmt.Sprintf("agent: critic expects %d obs and %d action columns, got %dx%d and %dx%d",
			c.obsSize, c.actionSize, or, oc, ar, ac))
	}
	in := mat.NewDense(or, oc+ac, nil)
	in.Slice(0, or, 0, oc).(*mat.Dense).Copy(obs)
	in.Slice(0, or, oc, oc+ac).(*mat.Dense).Copy(actions)

	logits, tape := c.MLP.Forward(in)
	probs := distrib.Softmax(logits)
	out := probs
	if log {
		out = distrib.LogSoftmax(logits)
	}
	return out, &CriticTape{mlp: tape, probs: probs, log: log}
}

// Backward takes dLoss/dOutput of the matching Forward, accumulates the
// critic's parameter gradients and returns the input gradients split into
// the observation and action parts.
func (c *CriticNet) Backward(tape *CriticTape, grad *mat.Dense) (gradObs, gradActions *mat.Dense) {
	rows, cols := grad.Dims()
	gradLogits := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		g := grad.RawRowView(i)
		p := tape.probs.RawRowView(i)
		dst := gradLogits.RawRowView(i)
		if tape.log {
			// d log softmax: g - p * sum(g)
			total := floats.Sum(g)
			for j := range dst {
				dst[j] = g[j] - p[j]*total
			}
			continue
		}
		// d softmax: p * (g - <p, g>)
		dot := floats.Dot(p, g)
		for j := range dst {
			dst[j] = p[j] * (g[j] - dot)
		}
	}

	gradIn := c.MLP.Backward(tape.mlp, gradLogits)
	gradObs = mat.DenseCopyOf(gradIn.Slice(0, rows, 0, c.obsSize))
	gradActions = mat.DenseCopyOf(gradIn.Slice(0, rows, c.obsSize, c.obsSize+c.actionSize))
	return gradObs, gradActions
}
