// Package config loads an optional entidb.yaml of process-wide
// defaults: PBKDF2 iteration count, a log-size checkpoint threshold,
// and the full-text index's default token length bounds. Absent a
// file, Defaults() is used as-is. CheckpointThreshold is loaded but
// nothing in the engine reads it; checkpoints run only when called.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/entidb/internal/errs"
)

// Config holds the process-wide defaults a bound database falls back
// to when a caller doesn't specify its own.
type Config struct {
	KDFIterations           int   `yaml:"kdfIterations"`
	CheckpointThreshold     int64 `yaml:"checkpointThreshold"`
	FTSMinTokenLength       int   `yaml:"ftsMinTokenLength"`
	FTSMaxTokenLength       int   `yaml:"ftsMaxTokenLength"`
	FTSDefaultCaseSensitive bool  `yaml:"ftsDefaultCaseSensitive"`
}

// Defaults returns the hardcoded defaults used when no file is loaded,
// or when the loaded file omits a field (zero-value fields in the
// parsed struct fall back to these rather than staying at zero).
func Defaults() Config {
	return Config{
		KDFIterations:           200_000,
		CheckpointThreshold:     64 * 1024 * 1024,
		FTSMinTokenLength:       2,
		FTSMaxTokenLength:       64,
		FTSDefaultCaseSensitive: false,
	}
}

// Load reads and parses path as YAML, overlaying it onto Defaults().
// A missing file is not an error: Defaults() is returned unchanged.
func Load(path string) (Config, error) {
	const op = "config.Load"
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errs.New(errs.IoError, op, err)
	}

	var overlay struct {
		KDFIterations           *int   `yaml:"kdfIterations"`
		CheckpointThreshold     *int64 `yaml:"checkpointThreshold"`
		FTSMinTokenLength       *int   `yaml:"ftsMinTokenLength"`
		FTSMaxTokenLength       *int   `yaml:"ftsMaxTokenLength"`
		FTSDefaultCaseSensitive *bool  `yaml:"ftsDefaultCaseSensitive"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, errs.New(errs.InvalidArgument, op, err)
	}

	if overlay.KDFIterations != nil {
		cfg.KDFIterations = *overlay.KDFIterations
	}
	if overlay.CheckpointThreshold != nil {
		cfg.CheckpointThreshold = *overlay.CheckpointThreshold
	}
	if overlay.FTSMinTokenLength != nil {
		cfg.FTSMinTokenLength = *overlay.FTSMinTokenLength
	}
	if overlay.FTSMaxTokenLength != nil {
		cfg.FTSMaxTokenLength = *overlay.FTSMaxTokenLength
	}
	if overlay.FTSDefaultCaseSensitive != nil {
		cfg.FTSDefaultCaseSensitive = *overlay.FTSDefaultCaseSensitive
	}

	return cfg, nil
}
