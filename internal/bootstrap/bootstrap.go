// Package bootstrap implements the environment-bootstrap stage: it resolves
// the workspace, allocates a scratch directory, merges the stage's config
// fragments into one file, and installs the shared toolkit's bin/lib trees
// into the workspace.
//
// The stage reads its contract from the environment, exactly as the shell
// stage it replaces did: workspace_dir_path names the workspace root,
// cfg_keys carries the fragment selection as a JSON array, and
// origin_cfg_base_dir_path optionally overrides the origin_cfg convention.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"stagehand/internal/execute"
	"stagehand/internal/fetch"
	"stagehand/internal/logging"
	"stagehand/internal/merge"
	"stagehand/internal/scratch"
	"stagehand/internal/workspace"
)

// The stage's environment contract is shared with the pipeline runner and
// defined next to the merge rules: merge.EnvCfgKeys, merge.EnvOriginCfgDir,
// workspace.EnvWorkspaceDir.

// Installer abstracts the toolkit fetch so tests can avoid the network.
type Installer interface {
	Install(ctx context.Context, scratchDir, workspaceDir string) error
}

// Config assembles a Stage. Everything is explicit: the stage itself keeps no
// hidden global state beyond the environment contract it documents.
type Config struct {
	// Git supplies the toplevel for workspace naming. Nil falls back to the
	// cwd-derived name.
	Git workspace.GitInfo

	// ScratchBase overrides the scratch allocator's base directory.
	ScratchBase string

	// OriginDir overrides the fragment directory. Empty follows the
	// merge.EnvOriginCfgDir variable, then the origin_cfg convention.
	OriginDir string

	// OutputPath overrides the merged config path. Empty means .cfg in the
	// working directory.
	OutputPath string

	// Installer fetches and installs the toolkit. Nil uses a git-backed
	// installer cloning the fixed toolkit repository.
	Installer Installer

	// Out receives the final export line for the calling shell to eval.
	Out io.Writer

	// Logger reports stage progress. Nil means zap's no-op logger.
	Logger *zap.Logger
}

// Stage is the configured bootstrap stage.
type Stage struct {
	cfg       Config
	logger    *zap.Logger
	allocator scratch.Allocator
	installer Installer
}

// New builds a Stage, filling config defaults.
func New(cfg Config) *Stage {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	installer := cfg.Installer
	if installer == nil {
		installer = fetch.NewInstaller(execute.NewExecutor())
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Stage{
		cfg:       cfg,
		logger:    logger,
		allocator: scratch.Allocator{Base: cfg.ScratchBase},
		installer: installer,
	}
}

// Run executes the stage pipeline:
//
//	ResolveWorkspace -> CreateScratch -> MergeConfig -> CloneDependency -> CopyArtifacts
//
// strictly in order. Any failure halts the run immediately; already-written
// merge output and the scratch directory are left in place (no rollback).
func (s *Stage) Run(ctx context.Context) error {
	logging.Boot("Bootstrap stage starting")

	s.logger.Info("resolving workspace")
	ws, err := workspace.Resolve(ctx, s.cfg.Git)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	s.logger.Info("workspace resolved",
		zap.String("name", ws.Name),
		zap.String("dir", ws.Dir),
		zap.String("parent", ws.Parent))

	s.logger.Info("creating scratch directory")
	scratchDir, err := s.allocator.Allocate()
	if err != nil {
		return err
	}
	s.logger.Info("scratch directory created", zap.String("dir", scratchDir))

	s.logger.Info("merging configuration")
	if err := s.mergeConfig(); err != nil {
		return err
	}

	s.logger.Info("installing toolkit")
	if err := s.installer.Install(ctx, scratchDir, ws.Dir); err != nil {
		return err
	}

	// Re-export the workspace path for downstream pipeline steps.
	fmt.Fprintf(s.cfg.Out, "export %s=%s\n", workspace.EnvWorkspaceDir, ws.Dir)

	logging.Boot("Bootstrap stage completed")
	return nil
}

func (s *Stage) mergeConfig() error {
	keysValue, ok := os.LookupEnv(merge.EnvCfgKeys)
	if !ok {
		return fmt.Errorf("%s is not set", merge.EnvCfgKeys)
	}
	keys, err := merge.ParseKeys(keysValue)
	if err != nil {
		return err
	}

	originDir := s.cfg.OriginDir
	if originDir == "" {
		originDir = os.Getenv(merge.EnvOriginCfgDir)
	}
	if originDir == "" {
		originDir = merge.DefaultOriginDir
	}

	outputPath := s.cfg.OutputPath
	if outputPath == "" {
		outputPath = merge.DefaultOutputFile
	}

	merger := merge.NewMerger(originDir, outputPath)
	merger.Logger = s.logger

	s.logger.Info("merge plan",
		zap.Strings("keys", keys),
		zap.String("origin", originDir),
		zap.String("output", outputPath))

	return merger.Merge(keys)
}
