// Package manifest records what each pipeline run was asked to do and how it
// ended. The legacy runner only logged the manifest; the store persists it so
// `stagehand history` can answer "what ran on this machine".
package manifest

import (
	"encoding/json"
	"time"
)

// Run states.
const (
	StateStarted   = "started"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Manifest describes one pipeline run.
type Manifest struct {
	RunID        string    `json:"run_id"`
	Branch       string    `json:"branch"`
	Commit       string    `json:"commit"`
	Inventory    string    `json:"inventory"`
	EnvType      string    `json:"env_type"`
	Workflow     string    `json:"workflow"`
	ActiveStages []string  `json:"active_stages"`
	OriginCfg    string    `json:"origin_cfg"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// JSON renders the manifest as indented JSON for the run log.
func (m *Manifest) JSON() string {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
