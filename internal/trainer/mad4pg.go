// Package trainer coordinates a population of D4PG learners under a shared
// replay store: MADDPG-style centralized critics with distributional value
// estimation and n-step returns (MAD4PG).
package trainer

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"mad4pg/internal/agent"
	"mad4pg/internal/buffer"
	"mad4pg/internal/config"
	"mad4pg/internal/explore"
	"mad4pg/internal/nn"
)

// maxStalledResets is how many consecutive warm-up episodes may end without
// growing the replay store before InitializeMemory gives up.
const maxStalledResets = 100

// Memory is the replay store the trainer learns from. Sample must return
// transitions with the n-step return already applied.
type Memory interface {
	Store(e buffer.Experience)
	Sample(batchSize int) (buffer.Batch, error)
	InitNStep()
	Len() int
}

// Env is the environment surface used by warm-up and the training loop.
type Env interface {
	States() [][]float64
	Step(actions [][]float64) (next [][]float64, rewards []float64, dones []bool)
	Reset() [][]float64
}

type MAD4PG struct {
	Agents []*agent.Learner
	Memory Memory

	TStep    int
	Episode  int
	AvgScore float64

	cfg        *config.Config
	actionSize int
	noise      distuv.Normal
	uniform    distuv.Uniform
	logger     *zap.Logger
}

// New builds one learner per agent and forces a hard target update so every
// target network starts identical to its active network.
func New(cfg *config.Config, stateSize, actionSize int, logger *zap.Logger) (*MAD4PG, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	src := rand.NewSource(uint64(cfg.Seed))

	memory, err := buffer.NewReplayBuffer(cfg.BufferSize, cfg.Gamma, cfg.Rollout, cfg.AgentCount, src)
	if err != nil {
		return nil, fmt.Errorf("create replay buffer: %w", err)
	}

	t := &MAD4PG{
		Memory:     memory,
		Episode:    1,
		cfg:        cfg,
		actionSize: actionSize,
		noise:      distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		uniform:    distuv.Uniform{Min: -1, Max: 1, Src: src},
		logger:     logger,
	}
	for i := 0; i < cfg.AgentCount; i++ {
		t.Agents = append(t.Agents, agent.New(i, stateSize, actionSize, cfg.AgentCount, cfg, src))
	}
	for _, a := range t.Agents {
		t.UpdateNetworks(a, true)
	}
	return t, nil
}

// E is the current exploration-noise magnitude, annealed from the running
// average score on every call.
func (t *MAD4PG) E() float64 {
	return explore.Rate(t.AvgScore, t.cfg.EMin, t.cfg.E, t.cfg.AnnealMax)
}

// Act picks one action per agent from its own observation. In training mode
// Gaussian noise scaled by E is added to every component. Actions are clipped
// to [-1, 1].
func (t *MAD4PG) Act(obs [][]float64, training bool) [][]float64 {
	if len(obs) != len(t.Agents) {
		panic(fmt.Sprintf("trainer: %d observations for %d agents", len(obs), len(t.Agents)))
	}
	e := t.E()
	actions := make([][]float64, len(t.Agents))
	for i, a := range t.Agents {
		out := a.Act(mat.NewDense(1, len(obs[i]), obs[i]))
		row := append([]float64(nil), out.RawRowView(0)...)
		for j := range row {
			if training {
				row[j] += e * t.noise.Rand()
			}
			row[j] = math.Max(-1, math.Min(row[j], 1))
		}
		actions[i] = row
	}
	return actions
}

func (t *MAD4PG) Store(e buffer.Experience) {
	t.Memory.Store(e)
}

// Learn samples one batch and runs a learning step for every agent, each
// followed by its target network update.
func (t *MAD4PG) Learn() {
	t.TStep++

	batch, err := t.Memory.Sample(t.cfg.BatchSize)
	if err != nil {
		panic(fmt.Sprintf("trainer: sample batch at step %d: %v", t.TStep, err))
	}
	if len(batch.Obs) != len(t.Agents) {
		panic(fmt.Sprintf("trainer: batch covers %d agents, have %d", len(batch.Obs), len(t.Agents)))
	}

	// Every agent's actions are needed in every critic, so all of them are
	// computed before any agent learns.
	targetActions := make([]*mat.Dense, len(t.Agents))
	predictedActions := make([]*mat.Dense, len(t.Agents))
	var g errgroup.Group
	for i, a := range t.Agents {
		i, a := i, a
		g.Go(func() (err error) {
			// Shape panics are re-raised on the calling goroutine below.
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("agent %d forward pass: %v", i, r)
				}
			}()
			targetActions[i] = a.ActorTarget.Predict(batch.NextObs[i])
			predictedActions[i] = a.Actor.Predict(batch.Obs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(fmt.Sprintf("trainer: %v", err))
	}

	joint := agent.Batch{
		Obs:              joinAgents(batch.Obs),
		NextObs:          joinAgents(batch.NextObs),
		Actions:          joinAgents(batch.Actions),
		TargetActions:    joinAgents(targetActions),
		PredictedActions: joinAgents(predictedActions),
	}
	for i, a := range t.Agents {
		joint.Rewards = batch.Rewards[i]
		joint.Dones = batch.Dones[i]
		a.Learn(joint)
		t.UpdateNetworks(a, false)
	}

	if ce := t.logger.Check(zap.DebugLevel, "learning step"); ce != nil {
		fields := []zap.Field{zap.Int("t_step", t.TStep)}
		for i, a := range t.Agents {
			fields = append(fields,
				zap.Float64(fmt.Sprintf("actor_loss_%d", i), a.ActorLoss),
				zap.Float64(fmt.Sprintf("critic_loss_%d", i), a.CriticLoss))
		}
		ce.Write(fields...)
	}
}

// InitializeMemory fills the replay store with random-action transitions
// until it holds pretrainLength of them. No learning happens here.
func (t *MAD4PG) InitializeMemory(pretrainLength int, env Env) {
	if t.MemLen() >= pretrainLength {
		t.logger.Info("memory already filled", zap.Int("length", t.MemLen()))
		return
	}
	interval := max(10, pretrainLength/25)
	t.logger.Info("initializing memory buffer", zap.Int("target", pretrainLength))

	obs := env.States()
	reported := -1
	stalled, lastLen := 0, t.MemLen()
	for t.MemLen() < pretrainLength {
		actions := make([][]float64, len(t.Agents))
		for i := range actions {
			actions[i] = make([]float64, t.actionSize)
			for j := range actions[i] {
				actions[i][j] = t.uniform.Rand()
			}
		}
		next, rewards, dones := env.Step(actions)
		t.Store(buffer.Experience{Obs: obs, NextObs: next, Actions: actions, Rewards: rewards, Dones: dones})
		obs = next
		if anyDone(dones) {
			env.Reset()
			obs = env.States()
			t.Memory.InitNStep()

			if n := t.MemLen(); n > lastLen {
				stalled, lastLen = 0, n
			} else if stalled++; stalled >= maxStalledResets {
				panic(fmt.Sprintf("trainer: %d environment resets without a stored transition; episodes are shorter than rollout %d",
					stalled, t.cfg.Rollout))
			}
		}
		if n := t.MemLen(); n != reported && (n%interval == 1 || n >= pretrainLength) {
			t.logger.Info("memory filled", zap.Int("length", n), zap.Int("target", pretrainLength))
			reported = n
		}
	}
	t.logger.Info("memory initialized", zap.Int("length", t.MemLen()))
}

// NewEpisode refreshes the running-average score from the episode history and
// starts a fresh n-step window.
func (t *MAD4PG) NewEpisode(scores []float64) {
	t.AvgScore = explore.RunningAverage(scores)
	t.Memory.InitNStep()
	t.Episode++
}

// UpdateNetworks syncs an agent's target networks: a soft blend every call,
// or a full copy every C learning steps. forceHard copies unconditionally.
func (t *MAD4PG) UpdateNetworks(a *agent.Learner, forceHard bool) {
	switch {
	case t.cfg.UpdateType == config.UpdateSoft && !forceHard:
		nn.SoftUpdate(a.ActorTarget, a.Actor, t.cfg.Tau)
		nn.SoftUpdate(a.CriticTarget, a.Critic, t.cfg.Tau)
	case forceHard || t.TStep%t.cfg.C == 0:
		nn.HardUpdate(a.ActorTarget, a.Actor)
		nn.HardUpdate(a.CriticTarget, a.Critic)
	}
}

func (t *MAD4PG) MemLen() int {
	return t.Memory.Len()
}

// joinAgents turns agent-major tensors into one batch-major joint tensor by
// laying the agents side by side along the feature axis.
func joinAgents(parts []*mat.Dense) *mat.Dense {
	rows, _ := parts[0].Dims()
	total := 0
	for _, p := range parts {
		r, c := p.Dims()
		if r != rows {
			panic(fmt.Sprintf("trainer: agent tensors have %d and %d rows", rows, r))
		}
		total += c
	}
	joint := mat.NewDense(rows, total, nil)
	col := 0
	for _, p := range parts {
		_, c := p.Dims()
		joint.Slice(0, rows, col, col+c).(*mat.Dense).Copy(p)
		col += c
	}
	return joint
}

func anyDone(dones []bool) bool {
	for _, d := range dones {
		if d {
			return true
		}
	}
	return false
}
