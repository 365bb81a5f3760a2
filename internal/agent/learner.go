// Package agent implements a single D4PG learner: one actor and one
// distributional critic with their target copies and optimizers.
package agent

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mad4pg/internal/config"
	"mad4pg/internal/distrib"
	"mad4pg/internal/nn"
)

// Batch is the centralized view of one sampled batch handed to a Learner.
// Observation and action tensors are joint (batch x agents*size); rewards and
// dones belong to the receiving agent only.
type Batch struct {
	Obs              *mat.Dense
	NextObs          *mat.Dense
	Actions          *mat.Dense
	TargetActions    *mat.Dense
	PredictedActions *mat.Dense
	Rewards          []float64
	Dones            []float64
}

// Learner owns one agent's networks and performs its gradient steps.
type Learner struct {
	Index      int
	StateSize  int
	ActionSize int

	Actor        Actor
	ActorTarget  Actor
	Critic       Critic
	CriticTarget Critic

	actorOptim  *nn.Adam
	criticOptim *nn.Adam
	projection  distrib.Projection

	// Losses of the most recent Learn call.
	ActorLoss  float64
	CriticLoss float64
}

// New builds the learner for agent index out of agentCount, whose critic
// sees every agent's observation and action.
func New(index, stateSize, actionSize, agentCount int, cfg *config.Config, src rand.Source) *Learner {
	if index < 0 || index >= agentCount {
		panic(fmt.Sprintf("agent: index %d out of range for %d agents", index, agentCount))
	}
	jointObs, jointAct := stateSize*agentCount, actionSize*agentCount
	return &Learner{
		Index:        index,
		StateSize:    stateSize,
		ActionSize:   actionSize,
		Actor:        NewActorNet(cfg.LayerSizes, stateSize, actionSize, src),
		ActorTarget:  NewActorNet(cfg.LayerSizes, stateSize, actionSize, src),
		Critic:       NewCriticNet(cfg.LayerSizes, jointObs, jointAct, cfg.NumAtoms, src),
		CriticTarget: NewCriticNet(cfg.LayerSizes, jointObs, jointAct, cfg.NumAtoms, src),
		actorOptim:   nn.NewAdam(cfg.ActorLearnRate, cfg.L2Decay),
		criticOptim:  nn.NewAdam(cfg.CriticLearnRate, cfg.L2Decay),
		projection: distrib.Projection{
			Support:   distrib.NewSupport(cfg.VMin, cfg.VMax, cfg.NumAtoms),
			Gamma:     cfg.Gamma,
			Rollout:   cfg.Rollout,
			Precision: cfg.Precision,
		},
	}
}

func (l *Learner) Support() distrib.Support { return l.projection.Support }

// Act runs the actor on a batch of this agent's observations.
func (l *Learner) Act(obs mat.Matrix) *mat.Dense {
	return l.Actor.Predict(obs)
}

// Learn performs one actor update followed by one critic update.
func (l *Learner) Learn(b Batch) {
	rows, _ := b.Obs.Dims()
	if len(b.Rewards) != rows || len(b.Dones) != rows {
		panic(fmt.Sprintf("agent: batch of %d with %d rewards and %d dones", rows, len(b.Rewards), len(b.Dones)))
	}
	n := float64(rows)
	atoms := l.projection.Support.Atoms

	// Critic: cross entropy between the projected target and the prediction
	// for the stored actions.
	logProbs, criticTape := l.Critic.Forward(b.Obs, b.Actions, true)
	targetProbs, _ := l.CriticTarget.Forward(b.NextObs, b.TargetActions, false)
	targetDist := l.projection.Project(b.Rewards, b.Dones, targetProbs)

	var ce mat.Dense
	ce.MulElem(targetDist, logProbs)
	criticLoss := -mat.Sum(&ce) / n

	// Actor: expected value of the critic for the joint predicted actions,
	// with this agent's slice taken from its live actor.
	lo, hi := l.Index*l.StateSize, (l.Index+1)*l.StateSize
	live, actorTape := l.Actor.Forward(b.Obs.Slice(0, rows, lo, hi))

	predicted := mat.DenseCopyOf(b.PredictedActions)
	alo, ahi := l.Index*l.ActionSize, (l.Index+1)*l.ActionSize
	predicted.Slice(0, rows, alo, ahi).(*mat.Dense).Copy(live)

	probs, actorCriticTape := l.Critic.Forward(b.Obs, predicted, false)
	actorLoss := -floats.Sum(l.projection.Support.ExpectedValues(probs)) / n

	// Gradient ascent on the expected value, applied before the critic step.
	l.Actor.ZeroGrad()
	gradProbs := mat.NewDense(rows, len(atoms), nil)
	for i := 0; i < rows; i++ {
		floats.ScaleTo(gradProbs.RawRowView(i), -1/n, atoms)
	}
	_, gradActions := l.Critic.Backward(actorCriticTape, gradProbs)
	l.Actor.Backward(actorTape, mat.DenseCopyOf(gradActions.Slice(0, rows, alo, ahi)))
	l.actorOptim.Step(l.Actor.Params(), l.Actor.Grads())

	// Gradient descent on the cross entropy.
	l.Critic.ZeroGrad()
	var gradLogProbs mat.Dense
	gradLogProbs.Scale(-1/n, targetDist)
	l.Critic.Backward(criticTape, &gradLogProbs)
	l.criticOptim.Step(l.Critic.Params(), l.Critic.Grads())

	l.ActorLoss = actorLoss
	l.CriticLoss = criticLoss
}
