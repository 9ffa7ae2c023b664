// Package merge assembles a single configuration file from fragments under
// the origin config directory, driven by an ordered list of cfg keys.
package merge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"stagehand/internal/fsutil"
	"stagehand/internal/logging"
)

const (
	// WildcardAll selects every fragment under the origin directory.
	WildcardAll = "*"

	// dirWildcardSuffix marks a key as "all fragments under this directory".
	dirWildcardSuffix = "/*"
)

// Environment variables forming the merge contract between the pipeline
// runner and a stage process.
const (
	// EnvCfgKeys carries the ordered cfg key list as a JSON array of strings.
	EnvCfgKeys = "cfg_keys"

	// EnvOriginCfgDir overrides the origin_cfg directory convention. The
	// pipeline runner points it at the staged cfg_resolved tree.
	EnvOriginCfgDir = "origin_cfg_base_dir_path"
)

// DefaultOriginDir is the conventional fragment directory, relative to the
// working directory of the invoking process.
const DefaultOriginDir = "origin_cfg"

// DefaultOutputFile is the merged config file, written to the working
// directory of the invoking process.
const DefaultOutputFile = ".cfg"

// Merger concatenates config fragments into one output file.
type Merger struct {
	// OriginDir holds the raw fragments. Keys resolve relative to it.
	OriginDir string

	// OutputPath is the merged file. It is opened in append mode: within a
	// run output only grows, and a re-run without removing the previous file
	// duplicates content. Callers own that hazard.
	OutputPath string

	// Logger reports operator-visible events (the non-fatal skip of a
	// missing wildcard directory). Never nil after NewMerger.
	Logger *zap.Logger
}

// NewMerger creates a Merger with a no-op operator logger.
func NewMerger(originDir, outputPath string) *Merger {
	return &Merger{
		OriginDir:  originDir,
		OutputPath: outputPath,
		Logger:     zap.NewNop(),
	}
}

// ParseKeys decodes the cfg_keys value: a JSON array of strings.
func ParseKeys(value string) ([]string, error) {
	var keys []string
	if err := json.Unmarshal([]byte(value), &keys); err != nil {
		return nil, fmt.Errorf("parse cfg_keys %q: %w", value, err)
	}
	return keys, nil
}

// Merge appends the fragments selected by keys, in key order, to the output
// file. Resolution per key, in precedence order:
//
//  1. "*"            — every regular file anywhere under OriginDir.
//  2. "<dir>/*"      — every regular file under OriginDir/<dir>; a missing
//     directory is logged and skipped, not an error.
//  3. "<path>"       — the single file OriginDir/<path>; a missing file is a
//     configuration authoring error and aborts the merge.
//
// Bytes are appended verbatim with no separators and no deduplication; the
// config format is assumed to tolerate naive concatenation. An empty key
// list still creates the output file.
func (m *Merger) Merge(keys []string) error {
	timer := logging.StartTimer(logging.CategoryMerge, "config merge")
	defer timer.Stop()

	out, err := os.OpenFile(m.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open merged config %s: %w", m.OutputPath, err)
	}

	logging.Merge("Merging %d cfg keys from %s into %s", len(keys), m.OriginDir, m.OutputPath)

	for _, key := range keys {
		if err := m.appendKey(out, key); err != nil {
			out.Close()
			return err
		}
	}

	// A failed close loses buffered writes, so it fails the merge.
	if err := out.Close(); err != nil {
		return fmt.Errorf("close merged config %s: %w", m.OutputPath, err)
	}
	return nil
}

func (m *Merger) appendKey(out io.Writer, key string) error {
	switch {
	case key == WildcardAll:
		logging.MergeDebug("Key %q: all fragments under %s", key, m.OriginDir)
		return m.appendTree(out, m.OriginDir)

	case strings.HasSuffix(key, dirWildcardSuffix):
		dir := filepath.Join(m.OriginDir, strings.TrimSuffix(key, dirWildcardSuffix))
		if !fsutil.IsDir(dir) {
			m.Logger.Info("cfg directory not found, skipping key",
				zap.String("key", key),
				zap.String("dir", dir))
			logging.MergeWarn("Key %q: directory %s not found, skipped", key, dir)
			return nil
		}
		logging.MergeDebug("Key %q: fragments under %s", key, dir)
		return m.appendTree(out, dir)

	default:
		path := filepath.Join(m.OriginDir, key)
		if !fsutil.IsFile(path) {
			return fmt.Errorf("cfg file not found: %s", path)
		}
		logging.MergeDebug("Key %q: file %s", key, path)
		return m.appendFile(out, path)
	}
}

// appendTree appends every regular file under root, recursively, in WalkDir
// order.
func (m *Merger) appendTree(out io.Writer, root string) error {
	files, err := fsutil.ListFiles(root)
	if err != nil {
		return fmt.Errorf("enumerate fragments under %s: %w", root, err)
	}
	for _, f := range files {
		if err := m.appendFile(out, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) appendFile(out io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fragment %s: %w", path, err)
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("append fragment %s: %w", path, err)
	}
	logging.MergeDebug("Appended %s (%d bytes)", path, n)
	return nil
}
