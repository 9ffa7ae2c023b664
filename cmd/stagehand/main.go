package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stagehand/internal/bootstrap"
	"stagehand/internal/execute"
	"stagehand/internal/logging"
	"stagehand/internal/manifest"
	"stagehand/internal/pipeline"
	"stagehand/internal/workspace"
)

const version = "1.2.0"

// stateDirName is where stagehand keeps its run history, under the repo root.
const stateDirName = ".stagehand"

var (
	// Global flags
	verbose bool

	// run flags
	inventory string
	envType   string
	workflow  string
	originCfg string
	ephemeral bool
	runID     string

	// history flags
	historyLimit int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "stagehand - local pipeline runner",
	Long: `stagehand runs deployment pipelines on a developer machine.

A pipeline is described by three layers of YAML under pipeline/ in the
repository: an inventory (the stage catalog for a deployment target), a
workflow (which stages run, in what order), and per-stage descriptors.
Each stage executes its run script with the run contract in the
environment: run_id, cfg_keys, and origin_cfg_base_dir_path.

The bootstrap subcommand is itself a stage body: it prepares a workspace,
merges config fragments, and installs the shared toolkit.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Category file logging is opt-in via .stagehand/config.json.
		if cwd, err := os.Getwd(); err == nil {
			if err := logging.Initialize(cwd); err != nil {
				logger.Warn("File logging unavailable", zap.Error(err))
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// runCmd executes a full pipeline run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow's stages against an inventory",
	Long: `Resolves the workflow for the inventory and environment type, stages the
origin config tree into cfg_resolved/, and executes each stage's run script
in order. The run manifest is printed and recorded in the local history.

The last line of output is an export statement for the calling shell:

  eval "$(stagehand run --inventory web --env-type dev --workflow release --origin-cfg ./origin_cfg)"

Environment-specific workflows take precedence; when
pipeline/workflows/<env-type>/<inventory>/<workflow>.yaml does not exist,
the base/ variant is used instead.`,
	RunE: runPipeline,
}

// bootstrapCmd executes the environment-bootstrap stage body
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Prepare the workspace: merge config fragments and install the toolkit",
	Long: `Runs the environment-bootstrap stage. The contract comes from the
environment, the way stage scripts receive it:

  workspace_dir_path        workspace root (required)
  cfg_keys                  JSON array of fragment keys (required)
  origin_cfg_base_dir_path  fragment directory (default: origin_cfg)

Fragments are appended into .cfg in key order, the toolkit repository is
shallow-cloned into a scratch directory, and its bin/ and lib/ trees are
copied into the workspace. The final line re-exports workspace_dir_path.`,
	RunE: runBootstrap,
}

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent pipeline runs",
	RunE:  showHistory,
}

// statusCmd shows runner status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stagehand status for this repository",
	RunE:  showStatus,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// Run flags
	runCmd.Flags().StringVar(&inventory, "inventory", "", "Inventory name (required)")
	runCmd.Flags().StringVar(&envType, "env-type", "", "Environment type, e.g. dev, staging, prod (required)")
	runCmd.Flags().StringVar(&workflow, "workflow", "", "Workflow name (required)")
	runCmd.Flags().StringVar(&originCfg, "origin-cfg", "", "Directory of raw config fragments (required)")
	runCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Run against a throwaway environment (forbidden for prod)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (UUID; generated when omitted)")
	runCmd.MarkFlagRequired("inventory")
	runCmd.MarkFlagRequired("env-type")
	runCmd.MarkFlagRequired("workflow")
	runCmd.MarkFlagRequired("origin-cfg")

	// History flags
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum number of runs to list")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

// repoRoot resolves the enclosing git toplevel, falling back to the working
// directory outside a checkout.
func repoRoot(ctx context.Context) string {
	git := execute.NewGit(execute.NewExecutor())
	if top, err := git.Toplevel(ctx); err == nil {
		return top
	}
	cwd, _ := os.Getwd()
	return cwd
}

// runPipeline executes a full pipeline run
func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id := runID
	if id == "" {
		id = uuid.NewString()
		logger.Info("Generated run id", zap.String("run_id", id))
	}

	root := repoRoot(ctx)

	store, err := manifest.NewStore(filepath.Join(root, stateDirName))
	if err != nil {
		// History is best effort: a broken store must not block deployments.
		logger.Warn("Run history unavailable", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	runner := pipeline.NewRunner(pipeline.Config{
		RepoRoot:  root,
		Inventory: inventory,
		EnvType:   envType,
		Workflow:  workflow,
		OriginCfg: originCfg,
		Ephemeral: ephemeral,
		RunID:     id,
		Store:     store,
		Logger:    logger,
	})

	start := time.Now()
	if err := runner.Run(ctx); err != nil {
		return err
	}
	logger.Info("Run finished",
		zap.String("run_id", id),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// runBootstrap executes the environment-bootstrap stage body
func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	stage := bootstrap.New(bootstrap.Config{
		Git:    execute.NewGit(execute.NewExecutor()),
		Logger: logger,
	})
	return stage.Run(ctx)
}

// showHistory lists recorded runs, newest first
func showHistory(cmd *cobra.Command, args []string) error {
	store, err := manifest.NewStore(filepath.Join(repoRoot(context.Background()), stateDirName))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	runs, err := store.List(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, m := range runs {
		fmt.Printf("%s  %-9s  %s/%s/%s  started %s\n",
			m.RunID, m.State, m.EnvType, m.Inventory, m.Workflow,
			m.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

// showStatus shows runner status
func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("stagehand Status")
	fmt.Println("================")
	fmt.Printf("Version: %s\n", version)
	fmt.Println()

	root := repoRoot(ctx)
	fmt.Printf("✓ Repository: %s\n", root)

	if ws, ok := os.LookupEnv(workspace.EnvWorkspaceDir); ok {
		fmt.Printf("✓ %s: %s\n", workspace.EnvWorkspaceDir, ws)
	} else {
		fmt.Printf("✗ %s not set\n", workspace.EnvWorkspaceDir)
	}

	store, err := manifest.NewStore(filepath.Join(root, stateDirName))
	if err != nil {
		fmt.Printf("✗ Run history unavailable: %v\n", err)
		return nil
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("✓ Run history: %d run(s) in %s\n", count, store.Path())
	return nil
}
