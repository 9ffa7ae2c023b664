// Package fetch installs the shared pipeline toolkit: a shallow clone of a
// fixed external repository whose bin/ and lib/ trees are copied into the
// workspace.
package fetch

import (
	"context"
	"fmt"
	"path/filepath"

	"stagehand/internal/execute"
	"stagehand/internal/fsutil"
	"stagehand/internal/logging"
)

// DefaultToolkitURL is the fixed source of shared bin/lib assets. The
// dependency is versionless: every run fetches the default branch head.
const DefaultToolkitURL = "https://github.com/stagehand-ci/toolkit.git"

// cloneDirName is the subdirectory of the scratch dir the toolkit lands in.
const cloneDirName = "toolkit"

// artifactDirs are the toolkit trees copied into the workspace.
var artifactDirs = []string{"bin", "lib"}

// Cloner performs the shallow clone. Satisfied by execute.Git.
type Cloner interface {
	CloneShallow(ctx context.Context, url, dest string) error
}

// Installer fetches the toolkit and installs its artifacts.
type Installer struct {
	// RepoURL is the toolkit repository. Defaults to DefaultToolkitURL.
	RepoURL string

	// Cloner performs the clone. Defaults to git on the host.
	Cloner Cloner
}

// NewInstaller returns an Installer using the host git binary.
func NewInstaller(executor *execute.Executor) *Installer {
	return &Installer{
		RepoURL: DefaultToolkitURL,
		Cloner:  execute.NewGit(executor),
	}
}

// Install shallow-clones the toolkit into scratchDir and copies its bin and
// lib trees into workspaceDir, creating destinations as needed and
// overwriting on conflict. A transient network failure is fatal: there is no
// retry, and no rollback of a partially copied tree.
func (i *Installer) Install(ctx context.Context, scratchDir, workspaceDir string) error {
	url := i.RepoURL
	if url == "" {
		url = DefaultToolkitURL
	}

	cloneDir := filepath.Join(scratchDir, cloneDirName)

	logging.Fetch("Cloning %s into %s (depth 1)", url, cloneDir)
	if err := i.Cloner.CloneShallow(ctx, url, cloneDir); err != nil {
		return fmt.Errorf("clone toolkit: %w", err)
	}

	for _, dir := range artifactDirs {
		src := filepath.Join(cloneDir, dir)
		dst := filepath.Join(workspaceDir, dir)

		if !fsutil.IsDir(src) {
			return fmt.Errorf("toolkit clone has no %s directory: %s", dir, src)
		}

		logging.Fetch("Installing %s -> %s", src, dst)
		if err := fsutil.CopyTree(src, dst, fsutil.CopyOptions{}); err != nil {
			return fmt.Errorf("install toolkit %s: %w", dir, err)
		}
	}

	return nil
}
