// Package pipeline orchestrates a full stagehand run: it resolves the
// inventory and workflow, stages the origin config tree, and executes each
// active stage's run script in workflow order.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stagehand/internal/config"
	"stagehand/internal/execute"
	"stagehand/internal/fsutil"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/merge"
)

// cfgResolvedDirName is the staging directory for resolved config fragments,
// created under the repo root for the duration of a run.
const cfgResolvedDirName = "cfg_resolved"

// Config assembles a Runner.
type Config struct {
	// RepoRoot is the repository being operated on. Empty resolves it from
	// the enclosing git checkout.
	RepoRoot string

	// Inventory, EnvType, and Workflow select what runs.
	Inventory string
	EnvType   string
	Workflow  string

	// OriginCfg is the directory of raw config fragments staged for stages.
	OriginCfg string

	// Ephemeral marks the run as using a throwaway environment. Forbidden
	// for env type "prod".
	Ephemeral bool

	// RunID is the caller-assigned run identifier; must be a valid UUID.
	RunID string

	// Store persists the run manifest. Nil disables persistence.
	Store *manifest.Store

	// Stdout receives stage output and the final export line; Stderr
	// receives stage error output. Default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// Logger reports run progress. Nil means zap's no-op logger.
	Logger *zap.Logger
}

// Runner executes pipelines.
type Runner struct {
	cfg      Config
	logger   *zap.Logger
	executor *execute.Executor
	git      *execute.Git
}

// NewRunner builds a Runner, filling config defaults.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	executor := execute.NewExecutor()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		git:      execute.NewGit(executor),
	}
}

// Validate checks run parameters before any work happens.
func (r *Runner) Validate() error {
	if _, err := uuid.Parse(r.cfg.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", r.cfg.RunID, err)
	}
	if r.cfg.EnvType == "prod" && r.cfg.Ephemeral {
		return fmt.Errorf("for env-type 'prod', only ephemeral=false is allowed")
	}
	return nil
}

// Run executes the pipeline end to end. The cfg_resolved staging directory is
// removed on every exit path; everything else a failing stage leaves behind
// stays in place.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Validate(); err != nil {
		return err
	}

	root := r.cfg.RepoRoot
	if root == "" {
		top, err := r.git.Toplevel(ctx)
		if err != nil {
			return fmt.Errorf("resolve repo root: %w", err)
		}
		root = top
	}
	logging.Pipeline("Run %s starting in %s", r.cfg.RunID, root)

	inv, err := config.LoadInventory(root, r.cfg.Inventory)
	if err != nil {
		return err
	}

	wfPath, usedBase, err := config.LocateWorkflow(root, r.cfg.EnvType, r.cfg.Inventory, r.cfg.Workflow)
	if err != nil {
		return err
	}
	if usedBase {
		r.logger.Info("using base workflow", zap.String("path", wfPath))
	} else {
		r.logger.Info("using environment-specific workflow", zap.String("path", wfPath))
	}

	wf, err := config.LoadWorkflow(wfPath)
	if err != nil {
		return err
	}

	active, err := config.BuildActiveStages(root, inv, wf.Stages)
	if err != nil {
		return err
	}

	m := r.buildManifest(ctx, wf.Stages)
	r.logger.Info("run manifest assembled", zap.String("run_id", m.RunID))
	fmt.Fprintln(r.cfg.Stdout, m.JSON())

	// History is best effort: a broken store must not block deployments.
	if r.cfg.Store != nil {
		if err := r.cfg.Store.Save(m); err != nil {
			logging.PipelineWarn("Could not record run manifest: %v", err)
			r.logger.Warn("run history unavailable", zap.Error(err))
		}
	}

	runErr := r.runStages(ctx, root, active)

	if r.cfg.Store != nil {
		state := manifest.StateCompleted
		if runErr != nil {
			state = manifest.StateFailed
		}
		if err := r.cfg.Store.Finish(m.RunID, state); err != nil {
			logging.PipelineWarn("Could not record run state: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	r.logger.Info("all stages completed", zap.String("run_id", r.cfg.RunID))
	fmt.Fprintf(r.cfg.Stdout, "export run_id=%s\n", r.cfg.RunID)
	return nil
}

// buildManifest collects run identity. Branch and commit are best effort:
// outside a checkout they stay empty.
func (r *Runner) buildManifest(ctx context.Context, stageIDs []string) *manifest.Manifest {
	m := &manifest.Manifest{
		RunID:        r.cfg.RunID,
		Inventory:    r.cfg.Inventory,
		EnvType:      r.cfg.EnvType,
		Workflow:     r.cfg.Workflow,
		ActiveStages: stageIDs,
		OriginCfg:    r.cfg.OriginCfg,
		State:        manifest.StateStarted,
		StartedAt:    time.Now().UTC(),
	}
	if branch, err := r.git.Branch(ctx); err == nil {
		m.Branch = branch
	}
	if commit, err := r.git.Commit(ctx); err == nil {
		m.Commit = commit
	}
	return m
}

// runStages stages the config tree and executes each active stage in order.
func (r *Runner) runStages(ctx context.Context, root string, active []config.ActiveStage) error {
	cfgResolved := filepath.Join(root, cfgResolvedDirName)

	if err := os.RemoveAll(cfgResolved); err != nil {
		return fmt.Errorf("clear %s: %w", cfgResolved, err)
	}
	if err := os.MkdirAll(cfgResolved, 0755); err != nil {
		return fmt.Errorf("create %s: %w", cfgResolved, err)
	}
	// Symlinked fragments are materialized so stage scripts see plain files.
	if err := fsutil.CopyTree(r.cfg.OriginCfg, cfgResolved, fsutil.CopyOptions{DereferenceSymlinks: true}); err != nil {
		return fmt.Errorf("stage origin cfg: %w", err)
	}
	defer os.RemoveAll(cfgResolved)

	for _, stage := range active {
		r.logger.Info("===================== " + stage.ID + " =====================")
		logging.Pipeline("Stage %s starting", stage.ID)

		env, err := r.stageEnv(stage, cfgResolved)
		if err != nil {
			return err
		}

		script := config.StageScriptPath(root, stage.ID)
		result, err := r.executor.RunStreaming(ctx, execute.Command{
			Binary:           script,
			WorkingDirectory: root,
			Environment:      env,
		}, r.cfg.Stdout, r.cfg.Stderr)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage.ID, err)
		}
		if result.ExitCode != 0 {
			logging.PipelineError("Stage %s failed with exit %d", stage.ID, result.ExitCode)
			return fmt.Errorf("stage %s failed: exit %d", stage.ID, result.ExitCode)
		}

		logging.Pipeline("Stage %s completed in %s", stage.ID, result.Duration)
	}

	return nil
}

// stageEnv builds the environment for a stage process: the inherited
// environment, the inventory and stage env vars (stage overriding inventory),
// then the run contract variables.
func (r *Runner) stageEnv(stage config.ActiveStage, cfgResolved string) ([]string, error) {
	keys := stage.CfgKeys
	if keys == nil {
		keys = []string{}
	}
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("marshal cfg keys for stage %s: %w", stage.ID, err)
	}

	env := os.Environ()
	for k, v := range stage.Env.Merged() {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"run_id="+r.cfg.RunID,
		merge.EnvCfgKeys+"="+string(keysJSON),
		merge.EnvOriginCfgDir+"="+cfgResolved,
	)
	return env, nil
}
