// Package config loads the pipeline metadata that drives a stagehand run:
// the inventory (which stages exist for a deployment target), the workflow
// (which stages run, in what order), and per-stage descriptors.
//
// Layout convention, relative to the repository root:
//
//	pipeline/inventory/<inventory>.yaml
//	pipeline/workflows/<env-type>/<inventory>/<workflow>.yaml
//	pipeline/workflows/base/<inventory>/<workflow>.yaml
//	pipeline/stages/<stage-id>/stage.yaml
//	pipeline/stages/<stage-id>/run/local.sh
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stagehand/internal/fsutil"
	"stagehand/internal/logging"
)

// Inventory describes the stage catalog for one deployment target.
type Inventory struct {
	// Stages lists every stage id this inventory knows about. A workflow may
	// only reference stages from this list.
	Stages []string `yaml:"stages"`

	// EnvVars are inventory-wide environment variables exported to every
	// stage process.
	EnvVars map[string]string `yaml:"env_vars"`
}

// Contains reports whether the inventory lists the given stage id.
func (inv *Inventory) Contains(stageID string) bool {
	for _, s := range inv.Stages {
		if s == stageID {
			return true
		}
	}
	return false
}

// Workflow selects an ordered subset of inventory stages to run.
type Workflow struct {
	Stages []string `yaml:"stages"`
}

// StageSpec is the per-stage descriptor from stage.yaml.
type StageSpec struct {
	// CfgKeys select which config fragments the stage's merge step consumes.
	CfgKeys []string `yaml:"cfg_keys"`

	// EnvVars are stage-specific environment variables; they override
	// inventory-level variables of the same name.
	EnvVars map[string]string `yaml:"env_vars"`
}

// ActiveStage is a workflow stage resolved against the inventory and its
// stage.yaml, ready for execution.
type ActiveStage struct {
	ID      string
	CfgKeys []string
	Env     StageEnv
}

// StageEnv carries the two layers of environment variables a stage receives.
type StageEnv struct {
	Inventory map[string]string
	Stage     map[string]string
}

// Merged flattens the environment layers, stage values overriding inventory
// values.
func (e StageEnv) Merged() map[string]string {
	merged := make(map[string]string, len(e.Inventory)+len(e.Stage))
	for k, v := range e.Inventory {
		merged[k] = v
	}
	for k, v := range e.Stage {
		merged[k] = v
	}
	return merged
}

// InventoryPath returns the path of an inventory file under root.
func InventoryPath(root, name string) string {
	return filepath.Join(root, "pipeline", "inventory", name+".yaml")
}

// StageSpecPath returns the path of a stage descriptor under root.
func StageSpecPath(root, stageID string) string {
	return filepath.Join(root, "pipeline", "stages", stageID, "stage.yaml")
}

// StageScriptPath returns the path of a stage's run script under root.
func StageScriptPath(root, stageID string) string {
	return filepath.Join(root, "pipeline", "stages", stageID, "run", "local.sh")
}

// LoadInventory reads pipeline/inventory/<name>.yaml under root.
func LoadInventory(root, name string) (*Inventory, error) {
	path := InventoryPath(root, name)
	logging.ConfigDebug("Loading inventory: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("inventory file not found: %s", path)
		}
		return nil, fmt.Errorf("read inventory %s: %w", path, err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	if inv.Stages == nil {
		return nil, fmt.Errorf("inventory %s: 'stages' must be a list of ids", path)
	}

	logging.Config("Loaded inventory %s: %d stages", name, len(inv.Stages))
	return &inv, nil
}

// LocateWorkflow finds the workflow file for the given environment type,
// preferring the environment-specific path and falling back to base. The
// returned bool reports whether the base fallback was used.
func LocateWorkflow(root, envType, inventory, workflow string) (string, bool, error) {
	envPath := filepath.Join(root, "pipeline", "workflows", envType, inventory, workflow+".yaml")
	if fsutil.IsFile(envPath) {
		logging.Config("Using environment-specific workflow: %s", envPath)
		return envPath, false, nil
	}

	basePath := filepath.Join(root, "pipeline", "workflows", "base", inventory, workflow+".yaml")
	if fsutil.IsFile(basePath) {
		logging.Config("Using base workflow: %s", basePath)
		return basePath, true, nil
	}

	return "", false, fmt.Errorf("workflow file not found in %s or base: %s.yaml", envType, workflow)
}

// LoadWorkflow reads a workflow file located by LocateWorkflow.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	if wf.Stages == nil {
		return nil, fmt.Errorf("workflow %s must have 'stages'", path)
	}
	return &wf, nil
}

// LoadStageSpec reads pipeline/stages/<id>/stage.yaml under root.
func LoadStageSpec(root, stageID string) (*StageSpec, error) {
	path := StageSpecPath(root, stageID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("stage metadata not found: %s", path)
		}
		return nil, fmt.Errorf("read stage metadata %s: %w", path, err)
	}

	var spec StageSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse stage metadata %s: %w", path, err)
	}
	return &spec, nil
}

// BuildActiveStages resolves the workflow's stage ids against the inventory
// and loads each stage descriptor, preserving workflow order. Every id must
// be listed in the inventory and have a stage.yaml.
func BuildActiveStages(root string, inv *Inventory, ids []string) ([]ActiveStage, error) {
	active := make([]ActiveStage, 0, len(ids))
	for _, id := range ids {
		if !inv.Contains(id) {
			return nil, fmt.Errorf("stage '%s' not listed in inventory", id)
		}

		spec, err := LoadStageSpec(root, id)
		if err != nil {
			return nil, err
		}

		active = append(active, ActiveStage{
			ID:      id,
			CfgKeys: spec.CfgKeys,
			Env: StageEnv{
				Inventory: inv.EnvVars,
				Stage:     spec.EnvVars,
			},
		})
	}
	return active, nil
}
