// Package dbconfig loads the small JSONC configuration file shared by the
// CLI front-ends (benchmark, demo, crash-test). The engine package itself
// takes no dependency on this package — its public constructors accept a
// path and a policy value directly.
package dbconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds settings shared by the CLI front-ends.
type Config struct {
	// DataDir is the directory holding the log file and, for the
	// crash-test tool (which runs with DataDir as its working directory),
	// the progress file.
	DataDir string `json:"data_dir"`

	// LogFile is the log file name within DataDir.
	LogFile string `json:"log_file"`

	// DefaultSyncMode is the policy spelling understood by
	// policy.ParseSpec ("always", "batch:<N>", "periodic:<ms>"), used as
	// the sync policy of kvwal-demo's REPL.
	DefaultSyncMode string `json:"default_sync_mode"`
}

// Default returns the built-in configuration used when no config file is
// present.
func Default() Config {
	return Config{
		DataDir:         "data",
		LogFile:         "kvwal.log",
		DefaultSyncMode: "always",
	}
}

// Load reads a JSONC (JSON with comments and trailing commas) config file
// at path, applying it on top of Default(). A missing file is not an
// error: Default() is returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("dbconfig: failed to read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("dbconfig: invalid JSONC in %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("dbconfig: invalid config in %s: %w", path, err)
	}

	return cfg, nil
}

// DBPath joins DataDir and LogFile into the log file path the CLI
// front-ends should open.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, c.LogFile)
}
