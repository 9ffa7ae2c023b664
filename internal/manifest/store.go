package manifest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stagehand/internal/logging"
)

// Store persists run manifests in a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates or opens the run-history store under stateDir
// (conventionally <repo-root>/.stagehand).
func NewStore(stateDir string) (*Store, error) {
	dbPath := filepath.Join(stateDir, "runs.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.StoreDebug("Manifest store opened: %s", dbPath)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		branch TEXT,
		commit_hash TEXT,
		inventory TEXT NOT NULL,
		env_type TEXT NOT NULL,
		workflow TEXT NOT NULL,
		active_stages_json TEXT,
		origin_cfg TEXT,
		state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save records a manifest row for a newly started run. A repeated run id
// replaces the earlier record: callers may legitimately re-run with an
// explicit --run-id, and history keeps the latest attempt.
func (s *Store) Save(m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages, err := json.Marshal(m.ActiveStages)
	if err != nil {
		return fmt.Errorf("marshal active stages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs (run_id, branch, commit_hash, inventory, env_type,
			workflow, active_stages_json, origin_cfg, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Branch, m.Commit, m.Inventory, m.EnvType,
		m.Workflow, string(stages), m.OriginCfg, m.State, m.StartedAt)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	logging.Store("Saved manifest for run %s", m.RunID)
	return nil
}

// Finish records the terminal state of a run.
func (s *Store) Finish(runID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE runs SET state = ?, finished_at = ? WHERE run_id = ?`,
		state, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	logging.Store("Run %s finished: %s", runID, state)
	return nil
}

// Get returns the manifest for a single run.
func (s *Store) Get(runID string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT run_id, branch, commit_hash, inventory, env_type, workflow,
			active_stages_json, origin_cfg, state, started_at,
			COALESCE(finished_at, '')
		FROM runs WHERE run_id = ?`, runID)

	m, err := scanManifest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return m, err
}

// List returns the most recent runs, newest first.
func (s *Store) List(limit int) ([]*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT run_id, branch, commit_hash, inventory, env_type, workflow,
			active_stages_json, origin_cfg, state, started_at,
			COALESCE(finished_at, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of recorded runs.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanManifest(row scannable) (*Manifest, error) {
	var m Manifest
	var stagesJSON string
	var startedAt time.Time
	var finishedAt string

	err := row.Scan(&m.RunID, &m.Branch, &m.Commit, &m.Inventory, &m.EnvType,
		&m.Workflow, &stagesJSON, &m.OriginCfg, &m.State, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	m.StartedAt = startedAt
	if stagesJSON != "" {
		if err := json.Unmarshal([]byte(stagesJSON), &m.ActiveStages); err != nil {
			return nil, fmt.Errorf("parse active stages for %s: %w", m.RunID, err)
		}
	}
	if finishedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			m.FinishedAt = ts
		} else if ts, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", finishedAt); err == nil {
			m.FinishedAt = ts
		}
	}

	return &m, nil
}
