// Package config loads engine configuration: defaults, then an
// optional YAML file, then PITCHSIDE_ environment overrides.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Cache      CacheConfig      `koanf:"cache"`
	Backend    BackendConfig    `koanf:"backend"`
	Transcribe TranscribeConfig `koanf:"transcribe"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type CacheConfig struct {
	Path string `koanf:"path"`
}

type BackendConfig struct {
	BaseURL string `koanf:"base_url"`
}

type TranscribeConfig struct {
	BaseURL        string `koanf:"base_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// Load reads configuration from path (optional; a missing file falls
// through to env and defaults) with PITCHSIDE_ env vars taking
// precedence. Nested keys use double underscores:
// PITCHSIDE_SERVER__PORT=9000.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("PITCHSIDE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PITCHSIDE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8090)
	}
	if !k.Exists("cache.path") {
		k.Set("cache.path", "./data/pitchside.db")
	}
	if !k.Exists("backend.base_url") {
		k.Set("backend.base_url", "http://localhost:8000/api/v1")
	}
	if !k.Exists("transcribe.base_url") {
		k.Set("transcribe.base_url", "http://localhost:8000/api/v1")
	}
	if !k.Exists("transcribe.timeout_seconds") {
		k.Set("transcribe.timeout_seconds", 60)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
