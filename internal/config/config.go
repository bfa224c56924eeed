package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Debug     bool            `yaml:"debug"`
	DataDir   string          `yaml:"data_dir"`
	Swarm     SwarmConfig     `yaml:"swarm"`
	Policy    PolicyConfig    `yaml:"policy"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	NATS      NATSConfig      `yaml:"nats"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vault     VaultConfig     `yaml:"vault"`
}

type SwarmConfig struct {
	Enabled     bool `yaml:"enabled"`
	HistorySize int  `yaml:"history_size"`
}

type PolicyConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Auth       string `yaml:"auth"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// AuditRetention bounds how long validation audit records are
	// kept. Zero retains them forever.
	AuditRetention time.Duration `yaml:"audit_retention"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		LogLevel: "info",
		DataDir:  "data",
		Swarm: SwarmConfig{
			Enabled:     true,
			HistorySize: 1000,
		},
		Policy: PolicyConfig{
			Dir:     "policies",
			Default: "default",
		},
		Web: WebConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("EPOPTIS_CONFIG")
	if path == "" {
		path = "config.yml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	// Paths left empty derive from the data dir
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "epoptis.db")
	}
	if cfg.NATS.DataDir == "" {
		cfg.NATS.DataDir = filepath.Join(cfg.DataDir, "nats")
	}

	return &cfg, nil
}

// SwarmAllowed resolves the deployment-level feature flag: swarm
// coordination engages when explicitly enabled or in debug mode.
func (c *Config) SwarmAllowed() bool {
	return c.Debug || c.Swarm.Enabled
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EPOPTIS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EPOPTIS_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = debug
		}
	}
	if v := os.Getenv("EPOPTIS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EPOPTIS_SWARM_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Swarm.Enabled = enabled
		}
	}
	if v := os.Getenv("EPOPTIS_POLICY_DIR"); v != "" {
		cfg.Policy.Dir = v
	}
	if v := os.Getenv("EPOPTIS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("EPOPTIS_LISTEN_ADDR"); v != "" {
		cfg.Web.ListenAddr = v
	}
	if v := os.Getenv("EPOPTIS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("EPOPTIS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("EPOPTIS_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
