// Package cartpole is a multi-agent, continuous-force cart-pole: every agent
// balances its own pole and the episode is shared.
package cartpole

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	length         = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * length
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0

	// StepReward is paid to an agent for every step its pole stays up.
	StepReward = 0.01
)

type State struct {
	X        float64 `json:"x"`
	XDot     float64 `json:"x_dot"`
	Theta    float64 `json:"theta"`
	ThetaDot float64 `json:"theta_dot"`
}

func (s State) Vector() []float64 {
	return []float64{s.X, s.XDot, s.Theta, s.ThetaDot}
}

func (s State) fallen() bool {
	return s.X < -xThreshold || s.X > xThreshold || s.Theta < -thetaThreshold || s.Theta > thetaThreshold
}

type Env struct {
	Carts    []State
	Steps    int
	MaxSteps int
	Rand     *rand.Rand
}

func NewEnv(agents, maxSteps int, rng *rand.Rand) *Env {
	if agents <= 0 {
		panic(fmt.Sprintf("cartpole: need at least one agent, got %d", agents))
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	env := &Env{
		Carts:    make([]State, agents),
		MaxSteps: maxSteps,
		Rand:     rng,
	}
	env.Reset()
	return env
}

func (e *Env) AgentCount() int { return len(e.Carts) }
func (e *Env) StateSize() int  { return 4 }
func (e *Env) ActionSize() int { return 1 }

// States returns the current observation of every agent.
func (e *Env) States() [][]float64 {
	obs := make([][]float64, len(e.Carts))
	for i, s := range e.Carts {
		obs[i] = s.Vector()
	}
	return obs
}

func (e *Env) Reset() [][]float64 {
	for i := range e.Carts {
		e.Carts[i] = State{
			X:        e.Rand.Float64()*0.1 - 0.05,
			XDot:     e.Rand.Float64()*0.1 - 0.05,
			Theta:    e.Rand.Float64()*0.1 - 0.05,
			ThetaDot: e.Rand.Float64()*0.1 - 0.05,
		}
	}
	e.Steps = 0
	return e.States()
}

// Step applies one continuous action in [-1, 1] per agent, scaled to the
// maximum force.
func (e *Env) Step(actions [][]float64) ([][]float64, []float64, []bool) {
	if len(actions) != len(e.Carts) {
		panic(fmt.Sprintf("cartpole: %d actions for %d agents", len(actions), len(e.Carts)))
	}
	e.Steps++

	rewards := make([]float64, len(e.Carts))
	dones := make([]bool, len(e.Carts))
	for i, a := range actions {
		force := math.Max(-1, math.Min(a[0], 1)) * forceMax
		e.Carts[i] = integrate(e.Carts[i], force)

		fallen := e.Carts[i].fallen()
		dones[i] = fallen || (e.MaxSteps > 0 && e.Steps >= e.MaxSteps)
		if !fallen {
			rewards[i] = StepReward
		}
	}
	return e.States(), rewards, dones
}

func integrate(s State, force float64) State {
	cosTheta := math.Cos(s.Theta)
	sinTheta := math.Sin(s.Theta)

	temp := (force + poleMassLength*s.ThetaDot*s.ThetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (length * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	return State{
		X:        s.X + tau*s.XDot,
		XDot:     s.XDot + tau*xAcc,
		Theta:    s.Theta + tau*s.ThetaDot,
		ThetaDot: s.ThetaDot + tau*thetaAcc,
	}
}
