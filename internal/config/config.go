// Package config holds the settings of the ilpatch command line: defaults,
// an optional JSON file and ILPATCH_* environment variables, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ilerrors "ilpatch/internal/errors"
)

// FileName is the configuration file looked up in the working directory
// and then in the home directory.
const FileName = ".ilpatch.json"

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Config represents the general configuration for ilpatch
type Config struct {
	// OutputPrefix is prepended to the input file name when apply is not
	// given an explicit output path.
	OutputPrefix string   `json:"output_prefix,omitempty"`
	References   []string `json:"references,omitempty"`
	// RuntimeAssembly receives imported core types. Empty means detected
	// from the module's references.
	RuntimeAssembly string `json:"runtime_assembly,omitempty"`
	LogLevel        string `json:"log_level,omitempty"`
	Color           bool   `json:"color"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		OutputPrefix: "Modified_",
		LogLevel:     "info",
		Color:        true,
	}
}

// Load builds the configuration from the defaults, the first configuration
// file found and the environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(searchPaths()); err != nil {
		return nil, err
	}
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func searchPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, FileName))
	}
	return paths
}

func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return ilerrors.WrapIO(fmt.Errorf("failed to read config file %s: %w", path, err))
		}
		if err := json.Unmarshal(data, c); err != nil {
			return ilerrors.WrapInvalidArgument("failed to parse config file %s: %v", path, err)
		}
		return nil
	}
	return nil
}

func (c *Config) loadFromEnv() {
	c.OutputPrefix = getEnv("ILPATCH_OUTPUT_PREFIX", c.OutputPrefix)
	c.RuntimeAssembly = getEnv("ILPATCH_RUNTIME_ASSEMBLY", c.RuntimeAssembly)
	c.LogLevel = strings.ToLower(getEnv("ILPATCH_LOG_LEVEL", c.LogLevel))

	if refs := os.Getenv("ILPATCH_REFERENCES"); refs != "" {
		c.References = nil
		for _, ref := range filepath.SplitList(refs) {
			if ref = strings.TrimSpace(ref); ref != "" {
				c.References = append(c.References, ref)
			}
		}
	}

	// NO_COLOR follows the convention shared by most terminal tools.
	if _, set := os.LookupEnv("NO_COLOR"); set {
		c.Color = false
	}
	switch strings.ToLower(os.Getenv("ILPATCH_COLOR")) {
	case "1", "true", "yes":
		c.Color = true
	case "0", "false", "no":
		c.Color = false
	}
}

// Validate checks the settings for values the commands cannot work with.
func (c *Config) Validate() error {
	if c.OutputPrefix == "" {
		return ilerrors.WrapInvalidArgument("output_prefix must not be empty")
	}
	if strings.ContainsAny(c.OutputPrefix, `/\`) {
		return ilerrors.WrapInvalidArgument("output_prefix %q must not contain a path separator", c.OutputPrefix)
	}
	if !validLogLevels[c.LogLevel] {
		return ilerrors.WrapInvalidArgument("invalid log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
