// Package config resolves server settings from defaults, YAML files, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/aioschat/server/agent"
)

const (
	DefaultPort = 3001
	// DirName is the per-user and per-project config directory, and the default
	// data directory under the work directory.
	DirName  = ".aios-chat"
	fileName = "config.yaml"

	StoreFile = "file"
	StoreBolt = "bolt"
)

// DefaultAllowedOrigins are the websocket origins accepted besides same-origin.
var DefaultAllowedOrigins = []string{
	"localhost:5173",
	"localhost:5174",
	"localhost:3000",
	"127.0.0.1:5173",
	"127.0.0.1:5174",
}

type Agent struct {
	Type      agent.AgentType `yaml:"type"`
	Command   string          `yaml:"command"`
	Args      []string        `yaml:"args"`
	Timeout   time.Duration   `yaml:"timeout"`
	KillGrace time.Duration   `yaml:"kill_grace"`
}

type Config struct {
	Port           int      `yaml:"port"`
	WorkDir        string   `yaml:"work_dir"`
	DataDir        string   `yaml:"data_dir"`
	Store          string   `yaml:"store"`
	DevMode        bool     `yaml:"dev"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Agent          Agent    `yaml:"agent"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		WorkDir:        ".",
		Store:          StoreFile,
		AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
		Agent: Agent{
			Type:      agent.Default,
			Timeout:   agent.DefaultTimeout,
			KillGrace: agent.DefaultKillGrace,
		},
	}
}

// Load builds a Config from defaults, then YAML, then the process environment.
// An explicit path must exist; with no path, the user-level and project-level
// files are read when present, the project file taking precedence.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config %s", path)
		}
	} else {
		for _, candidate := range searchPaths() {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := loadFromFile(candidate, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading config %s", candidate)
			}
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func searchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, DirName, fileName))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, DirName, fileName))
	}
	return paths
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the file replace what is already set.
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := getenv("WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("STORE"); v != "" {
		cfg.Store = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("DEV_MODE"); v != "" {
		cfg.DevMode = v == "true" || v == "1"
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := getenv("AGENT_TYPE"); v != "" {
		cfg.Agent.Type = agent.AgentType(v)
	}
	if v := getenv("AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
	if v := getenv("AGENT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid AGENT_TIMEOUT %q", v)
		}
		cfg.Agent.Timeout = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Resolve makes directories absolute, fills in derived defaults and validates.
func (c *Config) Resolve() error {
	workDir, err := filepath.Abs(c.WorkDir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve work directory")
	}
	c.WorkDir = workDir

	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.WorkDir, DirName)
	}
	dataDir, err := filepath.Abs(c.DataDir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve data directory")
	}
	c.DataDir = dataDir

	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	switch c.Store {
	case StoreFile, StoreBolt:
	default:
		return errors.Errorf("unknown store %q (want %q or %q)", c.Store, StoreFile, StoreBolt)
	}
	if c.Agent.Type == "" {
		c.Agent.Type = agent.Default
	}
	if !c.Agent.Type.IsValid() {
		return errors.Errorf("unknown agent type %q", c.Agent.Type)
	}
	if c.Agent.Timeout <= 0 {
		return errors.Errorf("agent timeout must be positive, got %s", c.Agent.Timeout)
	}
	return nil
}

// HistoryDir holds one JSON file per conversation for the file store.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "history")
}

// BoltPath is the database file of the bolt store.
func (c *Config) BoltPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}
