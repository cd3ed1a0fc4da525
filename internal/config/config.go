package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind"`
	Path        string `yaml:"path"`
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	DevMode     bool   `yaml:"dev"`

	// JWTSecret, when set, requires a signed token on every relay connection.
	JWTSecret string `yaml:"jwt_secret"`
	// AgentKeyHash, when set, is the bcrypt hash an agent's IDENTIFY key must match.
	AgentKeyHash string `yaml:"agent_key_hash"`

	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxMessageBytes int64    `yaml:"max_message_bytes"`

	Journal              bool   `yaml:"journal"`
	JournalRetentionDays int    `yaml:"journal_retention_days"`
	RetentionSchedule    string `yaml:"retention_schedule"`
}

// Load reads the optional YAML file named by RELAY_CONFIG and then applies
// RELAY_* environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := getEnv("RELAY_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *Config {
	return &Config{
		Port:                 8080,
		BindAddress:          "127.0.0.1",
		Path:                 "/",
		DataDir:              resolveDataDir(),
		LogLevel:             "info",
		MaxMessageBytes:      16 << 20,
		JournalRetentionDays: 7,
		RetentionSchedule:    "0 0 3 * * *",
	}
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv() {
	if p := getEnv("RELAY_PORT", ""); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Port = port
		}
	}
	if b := getEnv("RELAY_BIND", ""); b != "" {
		cfg.BindAddress = b
	}
	if p := getEnv("RELAY_PATH", ""); p != "" {
		cfg.Path = p
	}
	if d := getEnv("RELAY_DATA_DIR", ""); d != "" {
		cfg.DataDir = d
	}
	if l := getEnv("RELAY_LOG_LEVEL", ""); l != "" {
		cfg.LogLevel = l
	}
	if s := getEnv("RELAY_JWT_SECRET", ""); s != "" {
		cfg.JWTSecret = s
	}
	if h := getEnv("RELAY_AGENT_KEY_HASH", ""); h != "" {
		cfg.AgentKeyHash = h
	}
	if o := getEnv("RELAY_ALLOWED_ORIGINS", ""); o != "" {
		cfg.AllowedOrigins = splitList(o)
	}
	if m := getEnv("RELAY_MAX_MESSAGE_BYTES", ""); m != "" {
		if n, err := strconv.ParseInt(m, 10, 64); err == nil && n > 0 {
			cfg.MaxMessageBytes = n
		}
	}
	if j := getEnv("RELAY_JOURNAL", ""); j != "" {
		cfg.Journal = j == "true" || j == "1"
	}
	if r := getEnv("RELAY_JOURNAL_RETENTION_DAYS", ""); r != "" {
		if n, err := strconv.Atoi(r); err == nil && n > 0 {
			cfg.JournalRetentionDays = n
		}
	}
	if s := getEnv("RELAY_RETENTION_SCHEDULE", ""); s != "" {
		cfg.RetentionSchedule = s
	}
	if d := getEnv("RELAY_DEV", ""); d != "" {
		cfg.DevMode = d == "true"
	}
}

// Validate normalizes the path and rejects values the server cannot use.
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	for _, reserved := range []string{"/api", "/health", "/metrics"} {
		if cfg.Path == reserved || strings.HasPrefix(cfg.Path, reserved+"/") {
			return fmt.Errorf("relay path %s collides with %s", cfg.Path, reserved)
		}
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("invalid max message size %d", cfg.MaxMessageBytes)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
}

// URL is the local WebSocket URL clients should dial.
func (cfg *Config) URL() string {
	return fmt.Sprintf("ws://localhost:%d%s", cfg.Port, cfg.Path)
}

func resolveDataDir() string {
	// Resolve data dir relative to the executable, not the CWD
	exe, err := os.Executable()
	if err != nil {
		return "./data"
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "./data"
	}
	return filepath.Join(filepath.Dir(exe), "data")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
