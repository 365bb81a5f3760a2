package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	UpdateSoft = "soft"
	UpdateHard = "hard"
)

// Config holds the trainer hyperparameters and run settings.
type Config struct {
	AgentCount int   `yaml:"agent_count" json:"agent_count"`
	MaxSteps   int   `yaml:"max_steps" json:"max_steps"`
	Episodes   int   `yaml:"num_episodes" json:"num_episodes"`
	Pretrain   int   `yaml:"pretrain" json:"pretrain"`
	Seed       int64 `yaml:"seed" json:"seed"`

	// Exploration
	E         float64 `yaml:"e" json:"e"`
	EMin      float64 `yaml:"e_min" json:"e_min"`
	AnnealMax float64 `yaml:"anneal_max" json:"anneal_max"`

	// Target network synchronization: soft every step or hard every C steps
	UpdateType string  `yaml:"update_type" json:"update_type"`
	Tau        float64 `yaml:"tau" json:"tau"`
	C          int     `yaml:"C" json:"C"`

	// Replay
	BatchSize  int     `yaml:"batch_size" json:"batch_size"`
	BufferSize int     `yaml:"buffer_size" json:"buffer_size"`
	Gamma      float64 `yaml:"gamma" json:"gamma"`
	Rollout    int     `yaml:"rollout" json:"rollout"`

	// Value distribution
	NumAtoms  int     `yaml:"num_atoms" json:"num_atoms"`
	VMin      float64 `yaml:"vmin" json:"vmin"`
	VMax      float64 `yaml:"vmax" json:"vmax"`
	Precision int     `yaml:"precision" json:"precision"`

	// Networks
	ActorLearnRate  float64 `yaml:"actor_learn_rate" json:"actor_learn_rate"`
	CriticLearnRate float64 `yaml:"critic_learn_rate" json:"critic_learn_rate"`
	L2Decay         float64 `yaml:"l2_decay" json:"l2_decay"`
	LayerSizes      []int   `yaml:"layer_sizes" json:"layer_sizes"`
}

// Default returns the hyperparameters used for the two-agent cart-pole runs.
func Default() *Config {
	return &Config{
		AgentCount:      2,
		MaxSteps:        1000,
		Episodes:        2000,
		Pretrain:        5000,
		Seed:            0,
		E:               0.3,
		EMin:            0.05,
		AnnealMax:       5.0,
		UpdateType:      UpdateHard,
		Tau:             0.0005,
		C:               350,
		BatchSize:       128,
		BufferSize:      300000,
		Gamma:           0.99,
		Rollout:         5,
		NumAtoms:        100,
		VMin:            0.0,
		VMax:            2.0,
		Precision:       1,
		ActorLearnRate:  0.0005,
		CriticLearnRate: 0.001,
		L2Decay:         0.0001,
		LayerSizes:      []int{400, 300},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the trainer treats as precondition violations.
func (c *Config) Validate() error {
	var errs []error
	if c.AgentCount <= 0 {
		errs = append(errs, errors.New("agent_count must be > 0"))
	}
	if c.UpdateType != UpdateSoft && c.UpdateType != UpdateHard {
		errs = append(errs, fmt.Errorf("update_type must be %q or %q, got %q", UpdateSoft, UpdateHard, c.UpdateType))
	}
	if c.UpdateType == UpdateHard && c.C <= 0 {
		errs = append(errs, errors.New("C must be > 0 for hard updates"))
	}
	if c.Tau < 0 || c.Tau > 1 {
		errs = append(errs, errors.New("tau must be within [0, 1]"))
	}
	if c.EMin < 0 || c.E <= c.EMin {
		errs = append(errs, errors.New("e must be > e_min >= 0"))
	}
	if c.AnnealMax <= 0 {
		errs = append(errs, errors.New("anneal_max must be > 0"))
	}
	if c.BatchSize <= 0 || c.BufferSize < c.BatchSize {
		errs = append(errs, errors.New("buffer_size must be >= batch_size > 0"))
	}
	if c.Rollout <= 0 {
		errs = append(errs, errors.New("rollout must be > 0"))
	}
	// Episodes shorter than rollout never commit an n-step transition.
	if c.MaxSteps > 0 && c.MaxSteps < c.Rollout {
		errs = append(errs, fmt.Errorf("max_steps %d must be >= rollout %d", c.MaxSteps, c.Rollout))
	}
	if c.Pretrain < 0 || c.Pretrain > c.BufferSize {
		errs = append(errs, errors.New("pretrain must be within [0, buffer_size]"))
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		errs = append(errs, errors.New("gamma must be within (0, 1]"))
	}
	if c.NumAtoms < 2 {
		errs = append(errs, errors.New("num_atoms must be >= 2"))
	}
	if c.VMax <= c.VMin {
		errs = append(errs, errors.New("vmax must be > vmin"))
	}
	if c.Precision < 0 {
		errs = append(errs, errors.New("precision must be >= 0"))
	}
	if len(c.LayerSizes) == 0 {
		errs = append(errs, errors.New("layer_sizes must not be empty"))
	}
	for _, size := range c.LayerSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("layer size %d must be > 0", size))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	c.AgentCount = getenvInt("MAD4PG_AGENT_COUNT", c.AgentCount)
	c.Episodes = getenvInt("MAD4PG_EPISODES", c.Episodes)
	c.Pretrain = getenvInt("MAD4PG_PRETRAIN", c.Pretrain)
	c.Seed = getenvInt64("MAD4PG_SEED", c.Seed)
	c.BatchSize = getenvInt("MAD4PG_BATCH_SIZE", c.BatchSize)
	c.UpdateType = strings.ToLower(getenv("MAD4PG_UPDATE_TYPE", c.UpdateType))
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
