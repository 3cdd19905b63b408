package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EXECD_"

// Load reads configuration with precedence (highest first):
//
//  1. Environment variables (EXECD_SERVER_PORT, EXECD_GITHUB_TOKEN, ...)
//  2. YAML config file, when configPath is non-empty and the file exists
//  3. Built-in defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore-separated section
// name: EXECD_WORKSPACE_WORKTREE_DIR -> workspace.worktree_dir.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envTransform maps EXECD_SECTION_SOME_KEY to section.some_key.
func envTransform(key string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(trimmed, "_")
	if !found {
		return section
	}
	return section + "." + rest
}
