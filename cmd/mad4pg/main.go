package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"mad4pg/internal/cartpole"
	"mad4pg/internal/config"
	"mad4pg/internal/report"
	"mad4pg/internal/trainer"
)

var (
	verbose    bool
	configPath string
	episodes   int
	statusAddr string
	chartPath  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mad4pg",
	Short: "Multi-agent distributional deterministic policy gradient trainer",
	Long: `mad4pg trains one actor per agent with centralized distributional
critics (MADDPG + D4PG) on a multi-agent continuous cart-pole.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = buildLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var buildLogger = func(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fill the replay buffer and train for the configured episodes",
	RunE:  runTrain,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults when empty)")

	trainCmd.Flags().IntVar(&episodes, "episodes", 0, "override num_episodes")
	trainCmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /healthz and /stats on this address")
	trainCmd.Flags().StringVar(&chartPath, "chart", "", "write an HTML score chart to this path")

	rootCmd.AddCommand(trainCmd, configCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if episodes > 0 {
		cfg.Episodes = episodes
	}

	env := cartpole.NewEnv(cfg.AgentCount, cfg.MaxSteps, rand.New(rand.NewSource(cfg.Seed)))
	tr, err := trainer.New(cfg, env.StateSize(), env.ActionSize(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	status := newStatusServer(runID, cfg)
	var wg sync.WaitGroup
	if statusAddr != "" {
		serverCtx, cancel := context.WithCancel(ctx)
		defer func() {
			cancel()
			wg.Wait()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveStatus(serverCtx, statusAddr, status.handler(), logger)
		}()
	}

	runner := &trainer.Runner{
		RunID:     runID,
		Trainer:   tr,
		Env:       env,
		Episodes:  cfg.Episodes,
		Pretrain:  cfg.Pretrain,
		Logger:    logger,
		OnEpisode: status.record,
	}
	scores, err := runner.Run(ctx)

	if chartPath != "" && len(scores) > 0 {
		if cerr := report.WriteScoreChart(chartPath, "MAD4PG cart-pole "+runID, scores); cerr != nil {
			logger.Error("failed to write score chart", zap.Error(cerr))
		} else {
			logger.Info("score chart written", zap.String("path", chartPath))
		}
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("training interrupted", zap.Int("episodes", len(scores)))
		return nil
	}
	return err
}

// run executes the CLI and flushes the logger on every exit path.
func run(args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
