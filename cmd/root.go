// Package cmd implements the drover CLI.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jywlabs/drover/internal/config"
	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/executor"
	"github.com/jywlabs/drover/internal/gitops"
	"github.com/jywlabs/drover/internal/launcher"
	"github.com/jywlabs/drover/internal/lessons"
	"github.com/jywlabs/drover/internal/spectool"
)

var (
	dirFlag     string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "drover - feedback-driven delivery pipeline for coding agents",
	Long: `drover drives features through an automated delivery pipeline
(specify → plan → tasks → implement → complete), executing each phase with
an autonomous coding agent, gating advancement on quality scores, and
feeding lessons from finished work back into future prompts.

Commands:
  run       Advance a feature through the pipeline
  reflect   Extract lessons from a completed work item
  lessons   Query stored lessons
  gate      Run the quality gate for one feature/phase
  version   Show version info`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", ".", "Working directory (the feature's worktree)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable operator logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime bundles everything a command needs wired up.
type runtime struct {
	cfg    config.Config
	store  events.Store
	deps   executor.Deps
	engine *lessons.Engine
	logger *zap.Logger
}

// newRuntime loads config and wires the production collaborators. The
// caller must Close the runtime when done.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(dirFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := zap.NewNop()
	if verboseFlag {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	var store events.Store
	switch cfg.StoreDriver {
	case "postgres":
		store, err = events.OpenPostgres(ctx, cfg.StoreURL)
	default:
		store, err = events.OpenSQLite(cfg.StorePath)
	}
	if err != nil {
		return nil, err
	}

	launch := launcher.NewCLI(cfg.AgentBin, cfg.LogDir, logger)
	engine := lessons.NewEngine(store, launch, logger)
	engine.FileMode = cfg.ReflectFile

	deps := executor.Deps{
		Launcher: launch,
		Tool:     spectool.NewCLI(cfg.SpecToolBin),
		Store:    store,
		Git:      gitops.NewGit(),
		PRs:      gitops.NewGitHub(ctx, os.Getenv("GITHUB_TOKEN")),
		Lessons:  engine,
		Logger:   logger,
		Timeouts: executor.Timeouts{
			Standard:         cfg.StandardTimeout,
			ImplementFloor:   cfg.ImplementFloor,
			ImplementPerTask: cfg.ImplementPerTask,
			Verification:     cfg.Verification,
		},
	}

	return &runtime{cfg: cfg, store: store, deps: deps, engine: engine, logger: logger}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close event store", zap.Error(err))
	}
	_ = r.logger.Sync()
}
