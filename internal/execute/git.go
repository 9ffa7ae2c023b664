package execute

import (
	"context"
	"fmt"
	"strings"
)

// Git wraps the host git binary for the handful of operations stagehand needs.
type Git struct {
	executor *Executor

	// Dir is the directory git commands run from. Empty means the process cwd.
	Dir string
}

// NewGit creates a Git helper backed by the given executor.
func NewGit(executor *Executor) *Git {
	return &Git{executor: executor}
}

// run invokes git with the given arguments and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	result, err := g.executor.Run(ctx, Command{
		Binary:           "git",
		Arguments:        args,
		WorkingDirectory: g.Dir,
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s: exit %d: %s",
			strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Toplevel returns the root of the enclosing git checkout.
func (g *Git) Toplevel(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--show-toplevel")
}

// Branch returns the current branch name.
func (g *Git) Branch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Commit returns the current HEAD commit hash.
func (g *Git) Commit(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// CloneShallow performs a depth-1 clone of url into dest. No retry and no
// timeout: an unresponsive remote blocks until the context is canceled or the
// process is killed.
func (g *Git) CloneShallow(ctx context.Context, url, dest string) error {
	result, err := g.executor.Run(ctx, Command{
		Binary:    "git",
		Arguments: []string{"clone", "--depth", "1", url, dest},
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git clone %s: exit %d: %s",
			url, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
