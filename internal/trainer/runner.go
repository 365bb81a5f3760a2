package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"mad4pg/internal/buffer"
)

// EpisodeResult summarizes one finished training episode.
type EpisodeResult struct {
	Episode    int       `json:"episode"`
	Score      float64   `json:"score"`
	AvgScore   float64   `json:"avg_score"`
	E          float64   `json:"e"`
	Steps      int       `json:"steps"`
	TStep      int       `json:"t_step"`
	MemLen     int       `json:"memory_length"`
	ActorLoss  []float64 `json:"actor_loss"`
	CriticLoss []float64 `json:"critic_loss"`
	Duration   float64   `json:"duration_sec"`
}

// Runner drives the training loop: warm-up, then episodes of act, step,
// store and learn.
type Runner struct {
	RunID    string
	Trainer  *MAD4PG
	Env      Env
	Episodes int
	MaxSteps int // 0 leaves episode length to the environment
	Pretrain int
	Logger   *zap.Logger

	// OnEpisode, if set, is called after every episode.
	OnEpisode func(EpisodeResult)
}

// Run trains for r.Episodes episodes and returns the per-episode scores. The
// score of an episode is the best return among the agents.
func (r *Runner) Run(ctx context.Context) ([]float64, error) {
	if r.Episodes <= 0 {
		return nil, errors.New("episodes must be > 0")
	}
	if r.Trainer == nil || r.Env == nil {
		return nil, errors.New("runner needs a trainer and an environment")
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", r.RunID))

	r.Trainer.InitializeMemory(r.Pretrain, r.Env)

	scores := make([]float64, 0, r.Episodes)
	for i := 0; i < r.Episodes; i++ {
		select {
		case <-ctx.Done():
			return scores, ctx.Err()
		default:
		}

		start := time.Now()
		returns, steps := r.episode()
		score := floats.Max(returns)
		scores = append(scores, score)

		result := EpisodeResult{
			Episode:  r.Trainer.Episode,
			Score:    score,
			Steps:    steps,
			Duration: time.Since(start).Seconds(),
		}
		r.Trainer.NewEpisode(scores)
		result.AvgScore = r.Trainer.AvgScore
		result.E = r.Trainer.E()
		result.TStep = r.Trainer.TStep
		result.MemLen = r.Trainer.MemLen()
		for _, a := range r.Trainer.Agents {
			result.ActorLoss = append(result.ActorLoss, a.ActorLoss)
			result.CriticLoss = append(result.CriticLoss, a.CriticLoss)
		}

		logger.Info("episode finished",
			zap.Int("episode", result.Episode),
			zap.Float64("score", result.Score),
			zap.Float64("avg_score", result.AvgScore),
			zap.Float64("e", result.E),
			zap.Int("steps", result.Steps),
			zap.Int("t_step", result.TStep))
		if r.OnEpisode != nil {
			r.OnEpisode(result)
		}
	}
	return scores, nil
}

func (r *Runner) episode() ([]float64, int) {
	obs := r.Env.Reset()
	returns := make([]float64, len(obs))
	steps := 0
	for r.MaxSteps <= 0 || steps < r.MaxSteps {
		actions := r.Trainer.Act(obs, true)
		next, rewards, dones := r.Env.Step(actions)
		r.Trainer.Store(buffer.Experience{Obs: obs, NextObs: next, Actions: actions, Rewards: rewards, Dones: dones})
		if r.Trainer.MemLen() >= r.Trainer.cfg.BatchSize {
			r.Trainer.Learn()
		}
		floats.Add(returns, rewards)
		obs = next
		steps++
		if anyDone(dones) {
			break
		}
	}
	return returns, steps
}
