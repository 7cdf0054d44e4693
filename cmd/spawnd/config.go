package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	EnvAddr      = "SPAWN_ADDR"
	EnvJWTSecret = "SPAWN_JWT_SECRET"
)

type Config struct {
	Addr       string
	Path       string
	Origin     string
	Secret     string
	ScriptDirs []string
	Pool       int
	Timeout    time.Duration
}

type fileConfig struct {
	Addr       string   `toml:"addr"`
	Path       string   `toml:"path"`
	Origin     string   `toml:"origin"`
	JWTSecret  string   `toml:"jwt_secret"`
	ScriptDirs []string `toml:"script_dirs"`
	Pool       int      `toml:"pool"`
	Timeout    string   `toml:"timeout"`
}

func defaultConfig() Config {
	return Config{
		Addr:    ":8090",
		Path:    "/__spawn",
		Origin:  "http://localhost:8090/",
		Pool:    2,
		Timeout: 5 * time.Second,
	}
}

// loadConfig overlays the TOML file at path (if it exists) and then the
// environment on top of the defaults. Invalid values fall back to defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
			log.Info().Str("path", path).Msg("[config] no config file, using defaults")
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.Secret = v
	}

	validate(&cfg)
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("load spawnd config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("origin") {
		cfg.Origin = strings.TrimSpace(raw.Origin)
	}
	if meta.IsDefined("jwt_secret") {
		cfg.Secret = raw.JWTSecret
	}
	if meta.IsDefined("script_dirs") {
		cfg.ScriptDirs = normalizeList(raw.ScriptDirs)
	}
	if meta.IsDefined("pool") {
		cfg.Pool = raw.Pool
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	return nil
}

func validate(cfg *Config) {
	def := defaultConfig()

	if cfg.Addr == "" {
		log.Warn().Str("fallback", def.Addr).Msg("[config] addr is empty")
		cfg.Addr = def.Addr
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		log.Warn().Str("path", cfg.Path).Msg("[config] path does not start with '/', fixing")
		cfg.Path = "/" + cfg.Path
	}
	if cfg.Pool <= 0 {
		log.Warn().Int("pool", cfg.Pool).Int("fallback", def.Pool).Msg("[config] pool is invalid")
		cfg.Pool = def.Pool
	}
	if cfg.Timeout <= 0 {
		log.Warn().Dur("timeout", cfg.Timeout).Dur("fallback", def.Timeout).Msg("[config] timeout is invalid")
		cfg.Timeout = def.Timeout
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
