package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/merge"
	"stagehand/internal/workspace"
)

type stubGit struct{ toplevel string }

func (s stubGit) Toplevel(ctx context.Context) (string, error) {
	if s.toplevel == "" {
		return "", errors.New("not a git repository")
	}
	return s.toplevel, nil
}

// recordingInstaller captures the install call and plants toolkit artifacts.
type recordingInstaller struct {
	scratchDir   string
	workspaceDir string
	err          error
}

func (r *recordingInstaller) Install(ctx context.Context, scratchDir, workspaceDir string) error {
	r.scratchDir = scratchDir
	r.workspaceDir = workspaceDir
	if r.err != nil {
		return r.err
	}
	return os.MkdirAll(filepath.Join(workspaceDir, "bin"), 0755)
}

func setupEnv(t *testing.T, workspaceDir, originDir, cfgKeys string) {
	t.Helper()
	t.Setenv(workspace.EnvWorkspaceDir, workspaceDir)
	t.Setenv(merge.EnvOriginCfgDir, originDir)
	t.Setenv(merge.EnvCfgKeys, cfgKeys)
}

func TestRun_FullPipeline(t *testing.T) {
	workspaceDir := t.TempDir()
	originDir := t.TempDir()
	outDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(originDir, "a.cfg"), []byte("alpha"), 0644))
	setupEnv(t, workspaceDir, originDir, `["a.cfg"]`)

	installer := &recordingInstaller{}
	var exportOut bytes.Buffer

	stage := New(Config{
		Git:         stubGit{toplevel: workspaceDir},
		ScratchBase: t.TempDir(),
		OutputPath:  filepath.Join(outDir, ".cfg"),
		Installer:   installer,
		Out:         &exportOut,
	})

	require.NoError(t, stage.Run(context.Background()))

	// Config was merged.
	got, err := os.ReadFile(filepath.Join(outDir, ".cfg"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	// The installer saw the scratch dir and the workspace dir.
	assert.Equal(t, workspaceDir, installer.workspaceDir)
	assert.DirExists(t, installer.scratchDir)

	// The workspace path is re-exported for downstream steps.
	assert.Equal(t,
		"export "+workspace.EnvWorkspaceDir+"="+workspaceDir+"\n",
		exportOut.String())
}

func TestRun_MissingWorkspaceEnvIsFatal(t *testing.T) {
	t.Setenv(workspace.EnvWorkspaceDir, "")
	t.Setenv(merge.EnvCfgKeys, `[]`)

	stage := New(Config{Installer: &recordingInstaller{}, Out: &bytes.Buffer{}})

	err := stage.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), workspace.EnvWorkspaceDir)
}

func TestRun_MissingCfgKeysIsFatal(t *testing.T) {
	workspaceDir := t.TempDir()
	t.Setenv(workspace.EnvWorkspaceDir, workspaceDir)
	t.Setenv(merge.EnvOriginCfgDir, t.TempDir())
	t.Setenv(merge.EnvCfgKeys, "placeholder") // register cleanup, then unset
	os.Unsetenv(merge.EnvCfgKeys)

	stage := New(Config{
		Git:         stubGit{toplevel: workspaceDir},
		ScratchBase: t.TempDir(),
		Installer:   &recordingInstaller{},
		Out:         &bytes.Buffer{},
	})

	err := stage.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), merge.EnvCfgKeys)
}

func TestRun_InstallerFailureIsFatal(t *testing.T) {
	workspaceDir := t.TempDir()
	originDir := t.TempDir()
	setupEnv(t, workspaceDir, originDir, `[]`)

	stage := New(Config{
		Git:         stubGit{toplevel: workspaceDir},
		ScratchBase: t.TempDir(),
		OutputPath:  filepath.Join(t.TempDir(), ".cfg"),
		Installer:   &recordingInstaller{err: errors.New("remote hung up")},
		Out:         &bytes.Buffer{},
	})

	err := stage.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote hung up")
}

func TestRun_MergeFailureStopsBeforeInstall(t *testing.T) {
	workspaceDir := t.TempDir()
	originDir := t.TempDir()
	setupEnv(t, workspaceDir, originDir, `["missing.cfg"]`)

	installer := &recordingInstaller{}
	stage := New(Config{
		Git:         stubGit{toplevel: workspaceDir},
		ScratchBase: t.TempDir(),
		OutputPath:  filepath.Join(t.TempDir(), ".cfg"),
		Installer:   installer,
		Out:         &bytes.Buffer{},
	})

	err := stage.Run(context.Background())
	require.Error(t, err)

	// The install step never ran; stages are strictly sequential.
	assert.Empty(t, installer.workspaceDir)
}
