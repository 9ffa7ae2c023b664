package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadInventory(t *testing.T) {
	root := t.TempDir()
	writeYAML(t, InventoryPath(root, "web"), `
stages:
  - bootstrap
  - deploy
env_vars:
  REGION: eu-west-1
`)

	inv, err := LoadInventory(root, "web")
	require.NoError(t, err)
	assert.Equal(t, []string{"bootstrap", "deploy"}, inv.Stages)
	assert.Equal(t, "eu-west-1", inv.EnvVars["REGION"])
	assert.True(t, inv.Contains("deploy"))
	assert.False(t, inv.Contains("teardown"))
}

func TestLoadInventory_Missing(t *testing.T) {
	_, err := LoadInventory(t.TempDir(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inventory file not found")
}

func TestLoadInventory_StagesRequired(t *testing.T) {
	root := t.TempDir()
	writeYAML(t, InventoryPath(root, "web"), `env_vars: {A: b}`)

	_, err := LoadInventory(root, "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'stages' must be a list")
}

func TestLocateWorkflow_PrefersEnvSpecific(t *testing.T) {
	root := t.TempDir()
	envPath := filepath.Join(root, "pipeline", "workflows", "staging", "web", "release.yaml")
	basePath := filepath.Join(root, "pipeline", "workflows", "base", "web", "release.yaml")
	writeYAML(t, envPath, "stages: [a]")
	writeYAML(t, basePath, "stages: [b]")

	path, usedBase, err := LocateWorkflow(root, "staging", "web", "release")
	require.NoError(t, err)
	assert.Equal(t, envPath, path)
	assert.False(t, usedBase)
}

func TestLocateWorkflow_FallsBackToBase(t *testing.T) {
	root := t.TempDir()
	basePath := filepath.Join(root, "pipeline", "workflows", "base", "web", "release.yaml")
	writeYAML(t, basePath, "stages: [a]")

	path, usedBase, err := LocateWorkflow(root, "prod", "web", "release")
	require.NoError(t, err)
	assert.Equal(t, basePath, path)
	assert.True(t, usedBase)
}

func TestLocateWorkflow_Missing(t *testing.T) {
	_, _, err := LocateWorkflow(t.TempDir(), "prod", "web", "release")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow file not found")
}

func TestLoadWorkflow_StagesRequired(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "wf.yaml")
	writeYAML(t, path, "name: release")

	_, err := LoadWorkflow(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must have 'stages'")
}

func TestBuildActiveStages(t *testing.T) {
	root := t.TempDir()
	writeYAML(t, StageSpecPath(root, "bootstrap"), `
cfg_keys:
  - common.cfg
  - "web/*"
env_vars:
  STAGE_ONLY: "1"
  REGION: us-east-1
`)
	writeYAML(t, StageSpecPath(root, "deploy"), `cfg_keys: []`)

	inv := &Inventory{
		Stages:  []string{"bootstrap", "deploy"},
		EnvVars: map[string]string{"REGION": "eu-west-1", "TEAM": "infra"},
	}

	active, err := BuildActiveStages(root, inv, []string{"bootstrap", "deploy"})
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, "bootstrap", active[0].ID)
	assert.Equal(t, []string{"common.cfg", "web/*"}, active[0].CfgKeys)

	// Stage env overrides inventory env on merge.
	merged := active[0].Env.Merged()
	want := map[string]string{
		"REGION":     "us-east-1",
		"TEAM":       "infra",
		"STAGE_ONLY": "1",
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merged env mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "deploy", active[1].ID)
	assert.Empty(t, active[1].CfgKeys)
}

func TestBuildActiveStages_UnknownStage(t *testing.T) {
	inv := &Inventory{Stages: []string{"bootstrap"}}

	_, err := BuildActiveStages(t.TempDir(), inv, []string{"teardown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed in inventory")
}

func TestBuildActiveStages_MissingStageSpec(t *testing.T) {
	inv := &Inventory{Stages: []string{"bootstrap"}}

	_, err := BuildActiveStages(t.TempDir(), inv, []string{"bootstrap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage metadata not found")
}
