package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()

	configDir := filepath.Join(tempDir, ".stagehand")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true
		}
	}`

	configPath := filepath.Join(configDir, "config.json")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryPipeline,
		CategoryConfig,
		CategoryWorkspace,
		CategoryMerge,
		CategoryFetch,
		CategoryExec,
		CategoryStore,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}

		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	CloseAll()

	// Every category should have produced a dated log file
	entries, err := os.ReadDir(filepath.Join(tempDir, ".stagehand", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	found := make(map[Category]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				found[cat] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[cat] {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

// TestProductionModeNoLogs verifies that nothing is written without a config file
func TestProductionModeNoLogs(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if IsDebugMode() {
		t.Error("Expected debug mode to be disabled without a config file")
	}

	Boot("this should go nowhere")
	Merge("this too")

	if _, err := os.Stat(filepath.Join(tempDir, ".stagehand", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

// TestCategoryFilter verifies per-category enable/disable
func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()

	configDir := filepath.Join(tempDir, ".stagehand")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configContent := `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"merge": true,
				"fetch": false
			}
		}
	}`
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsCategoryEnabled(CategoryMerge) {
		t.Error("merge category should be enabled")
	}
	if IsCategoryEnabled(CategoryFetch) {
		t.Error("fetch category should be disabled")
	}
	// Unlisted categories default to enabled
	if !IsCategoryEnabled(CategoryExec) {
		t.Error("exec category should default to enabled")
	}
}
