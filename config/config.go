package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the full daemon configuration, loaded from the environment.
type Config struct {
	LogLevel string `envDefault:"info" env:"HUSHTYPE_LOG_LEVEL"`

	// CacheDir is the root under which models and download staging live.
	// Empty means the platform user cache directory.
	CacheDir string `envDefault:"" env:"HUSHTYPE_CACHE_DIR"`

	// Backend selects the speech backend: deepgram, whisper or parakeet.
	Backend string `envDefault:"whisper" env:"HUSHTYPE_BACKEND"`
	ModelID string `envDefault:""        env:"HUSHTYPE_MODEL"`

	// Streaming backend settings.
	DeepgramAPIKey   string `envDefault:""                                env:"DEEPGRAM_API_KEY"`
	DeepgramEndpoint string `envDefault:"wss://api.deepgram.com/v1/listen" env:"DEEPGRAM_ENDPOINT"`
	DeepgramModel    string `envDefault:"nova-2"                          env:"DEEPGRAM_MODEL"`
	Language         string `envDefault:""                                env:"HUSHTYPE_LANGUAGE"`
	SampleRate       int    `envDefault:"16000"                           env:"HUSHTYPE_SAMPLE_RATE"`

	// Local inference server settings.
	WhisperBinary     string `envDefault:"whisper-server"     env:"WHISPER_BINARY"`
	WhisperGPUBinary  string `envDefault:""                   env:"WHISPER_GPU_BINARY"`
	ParakeetBinary    string `envDefault:"parakeet-server"    env:"PARAKEET_BINARY"`
	ParakeetGPUBinary string `envDefault:""                   env:"PARAKEET_GPU_BINARY"`
	PortMin           int    `envDefault:"18850"              env:"HUSHTYPE_PORT_MIN"`
	PortMax           int    `envDefault:"18899"              env:"HUSHTYPE_PORT_MAX"`
	WarmUp            bool   `envDefault:"true"               env:"HUSHTYPE_WARM_UP"`

	StartupTimeoutSec int `envDefault:"30" env:"HUSHTYPE_STARTUP_TIMEOUT_SEC"`
	StopGraceSec      int `envDefault:"5"  env:"HUSHTYPE_STOP_GRACE_SEC"`

	// Download staging hygiene.
	SweepMaxAgeHours int `envDefault:"24" env:"HUSHTYPE_SWEEP_MAX_AGE_HOURS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(base, "hushtype")
	}
	if cfg.PortMin > cfg.PortMax {
		return nil, fmt.Errorf("invalid port range %d-%d", cfg.PortMin, cfg.PortMax)
	}
	return cfg, nil
}

// SweepMaxAge returns the age beyond which stale download leftovers are removed.
func (c *Config) SweepMaxAge() time.Duration {
	return time.Duration(c.SweepMaxAgeHours) * time.Hour
}

// BackendConfig renders the per-backend string map handed to registry factories.
func (c *Config) BackendConfig() map[string]string {
	switch c.Backend {
	case "deepgram":
		return map[string]string{
			"endpoint":    c.DeepgramEndpoint,
			"model":       c.DeepgramModel,
			"language":    c.Language,
			"sample_rate": fmt.Sprintf("%d", c.SampleRate),
		}
	case "whisper":
		m := map[string]string{
			"binary":              c.WhisperBinary,
			"port_min":            fmt.Sprintf("%d", c.PortMin),
			"port_max":            fmt.Sprintf("%d", c.PortMax),
			"startup_timeout_sec": fmt.Sprintf("%d", c.StartupTimeoutSec),
			"stop_grace_sec":      fmt.Sprintf("%d", c.StopGraceSec),
		}
		if c.WhisperGPUBinary != "" {
			m["gpu_binary"] = c.WhisperGPUBinary
		}
		if !c.WarmUp {
			m["warm_up"] = "false"
		}
		if c.Language != "" {
			m["language"] = c.Language
		}
		return m
	case "parakeet":
		m := map[string]string{
			"binary":              c.ParakeetBinary,
			"port_min":            fmt.Sprintf("%d", c.PortMin),
			"port_max":            fmt.Sprintf("%d", c.PortMax),
			"startup_timeout_sec": fmt.Sprintf("%d", c.StartupTimeoutSec),
			"stop_grace_sec":      fmt.Sprintf("%d", c.StopGraceSec),
		}
		if c.ParakeetGPUBinary != "" {
			m["gpu_binary"] = c.ParakeetGPUBinary
		}
		if !c.WarmUp {
			m["warm_up"] = "false"
		}
		return m
	default:
		return nil
	}
}
