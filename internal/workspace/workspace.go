// Package workspace resolves the identity of the workspace a bootstrap run
// operates on: its root directory, display name, and parent directory.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stagehand/internal/logging"
)

// EnvWorkspaceDir is the required environment variable naming the absolute
// workspace root. Downstream pipeline steps read the same variable.
const EnvWorkspaceDir = "workspace_dir_path"

// Descriptor identifies the workspace. Computed once at the start of a run
// and read-only afterwards.
type Descriptor struct {
	// Name is the repository display name: the basename of the git toplevel,
	// or of the current directory outside a checkout.
	Name string

	// Dir is the workspace root from EnvWorkspaceDir.
	Dir string

	// Parent is the directory containing Dir.
	Parent string
}

// GitInfo supplies the git toplevel. Production code uses execute.Git; tests
// substitute a stub.
type GitInfo interface {
	Toplevel(ctx context.Context) (string, error)
}

// Resolve derives the workspace descriptor from the environment and git.
//
// EnvWorkspaceDir must be set and non-empty; that is the only validation
// performed on it. The display name falls back to the current directory when
// the process is not inside a git checkout.
func Resolve(ctx context.Context, git GitInfo) (*Descriptor, error) {
	dir := os.Getenv(EnvWorkspaceDir)
	if dir == "" {
		return nil, fmt.Errorf("%s is not set", EnvWorkspaceDir)
	}

	name, err := displayName(ctx, git)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:   name,
		Dir:    dir,
		Parent: filepath.Dir(dir),
	}

	logging.Workspace("Workspace name: %s", d.Name)
	logging.Workspace("Workspace dir: %s", d.Dir)
	logging.Workspace("Workspace parent: %s", d.Parent)

	return d, nil
}

func displayName(ctx context.Context, git GitInfo) (string, error) {
	if git != nil {
		if top, err := git.Toplevel(ctx); err == nil && top != "" {
			return filepath.Base(top), nil
		}
		logging.WorkspaceDebug("Not inside a git checkout, falling back to cwd")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return filepath.Base(cwd), nil
}
