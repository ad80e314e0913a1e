// ABOUTME: Configuration loading and parsing for xeno-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/xeno-gateway/internal/generation"
	"github.com/2389/xeno-gateway/internal/profiles"
	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

// Environment variables consulted by the loader.
const (
	EnvConfigPath    = "XENO_CONFIG"
	EnvDatabasePath  = "XENO_DB_PATH"
	EnvForceFallback = "MODEL_FALLBACK_ENABLED"
)

// MinJWTSecretLength is the shortest accepted auth.jwt_secret.
const MinJWTSecretLength = 32

// Config represents the complete xeno-gateway configuration
type Config struct {
	Server     ServerConfig      `yaml:"server" toml:"server"`
	Database   DatabaseConfig    `yaml:"database" toml:"database"`
	Auth       AuthConfig        `yaml:"auth" toml:"auth"`
	Generation GenerationConfig  `yaml:"generation" toml:"generation"`
	Tasks      TasksConfig       `yaml:"tasks" toml:"tasks"`
	Logging    LoggingConfig     `yaml:"logging" toml:"logging"`
	Profiles   []ProfileOverride `yaml:"profiles" toml:"profiles"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// AllowedOrigins lists browser origins allowed to call the API and open
	// WebSockets. Empty means same-origin only; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DatabaseConfig holds database configuration. An empty path disables
// persistence.
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"`
}

// AuthConfig holds authentication configuration. An empty secret runs the
// gateway in anonymous mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// GenerationConfig selects and configures the text-generation provider
type GenerationConfig struct {
	Provider      string        `yaml:"provider" toml:"provider"`
	APIKey        string        `yaml:"api_key" toml:"api_key"`
	BaseURL       string        `yaml:"base_url" toml:"base_url"`
	Model         string        `yaml:"model" toml:"model"`
	ForceFallback bool          `yaml:"force_fallback" toml:"force_fallback"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// TasksConfig bounds the in-memory task store
type TasksConfig struct {
	Capacity int           `yaml:"capacity" toml:"capacity"`
	TTL      time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ProfileOverride replaces selected fields of a built-in agent profile
type ProfileOverride struct {
	Role         string   `yaml:"role" toml:"role"`
	Description  string   `yaml:"description" toml:"description"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`
	Model        string   `yaml:"model" toml:"model"`
	Temperature  *float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens" toml:"max_tokens"`
	Instructions string   `yaml:"instructions" toml:"instructions"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8080"},
		Database: DatabaseConfig{Path: filepath.Join(DataDir(), "xeno.db"), Driver: store.DriverModernc},
		Generation: GenerationConfig{
			Provider: generation.ProviderNone,
			Timeout:  generation.DefaultTimeout,
		},
		Tasks:   TasksConfig{Capacity: tasks.DefaultCapacity, TTL: tasks.DefaultTTL},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath returns the path to the gateway config file.
// Priority: XENO_CONFIG env var > XDG_CONFIG_HOME/xeno/gateway.yaml > ~/.config/xeno/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "xeno", "gateway.yaml")
}

// DataDir returns the xeno data directory.
// Priority: XDG_DATA_HOME/xeno > ~/.local/share/xeno
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "xeno")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields the file leaves out keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist. Any other read or parse failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return finish(Default())
}

// finish applies duration parsing, env overrides, and validation.
func finish(cfg *Config) (*Config, error) {
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) error {
	if p := os.Getenv(EnvDatabasePath); p != "" {
		cfg.Database.Path = p
	}
	if v := os.Getenv(EnvForceFallback); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvForceFallback, v, err)
		}
		cfg.Generation.ForceFallback = on
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "", store.DriverModernc, store.DriverCgo:
	default:
		return fmt.Errorf("database.driver %q must be %q or %q", c.Database.Driver, store.DriverModernc, store.DriverCgo)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch c.Generation.Provider {
	case "", generation.ProviderNone, generation.ProviderOpenAI, generation.ProviderAnthropic, generation.ProviderGemini:
	default:
		return fmt.Errorf("generation.provider %q is not supported", c.Generation.Provider)
	}
	if c.Generation.Timeout < 0 {
		return fmt.Errorf("generation.timeout must not be negative")
	}

	if c.Tasks.Capacity < 0 {
		return fmt.Errorf("tasks.capacity must not be negative")
	}
	if c.Tasks.TTL < 0 {
		return fmt.Errorf("tasks.ttl must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("logging.format %q must be text, json, or color", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if !profiles.Role(p.Role).Valid() {
			return fmt.Errorf("profiles[%d].role %q is not a known agent role", i, p.Role)
		}
		if seen[p.Role] {
			return fmt.Errorf("profiles[%d].role %q is listed twice", i, p.Role)
		}
		seen[p.Role] = true
	}

	return nil
}

// ProfileOverrides converts the profiles section for profiles.Registry.WithOverrides.
func (c *Config) ProfileOverrides() []profiles.Override {
	out := make([]profiles.Override, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		out = append(out, profiles.Override{
			Role:         profiles.Role(p.Role),
			Description:  p.Description,
			Capabilities: p.Capabilities,
			Model:        p.Model,
			Temperature:  p.Temperature,
			MaxTokens:    p.MaxTokens,
			Instructions: p.Instructions,
		})
	}
	return out
}

// ProviderConfig returns the generation provider settings.
func (c *Config) ProviderConfig() generation.ProviderConfig {
	return generation.ProviderConfig{
		APIKey:  c.Generation.APIKey,
		BaseURL: c.Generation.BaseURL,
		Model:   c.Generation.Model,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Tasks.TTLRaw != "" {
		cfg.Tasks.TTL, err = time.ParseDuration(cfg.Tasks.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing tasks.ttl %q: %w", cfg.Tasks.TTLRaw, err)
		}
	}

	return nil
}

// Write saves cfg to path as YAML, creating the directory. The file is
// readable only by its owner since it may hold secrets.
func (c *Config) Write(path string) error {
	out := *c
	out.Generation.TimeoutRaw = c.Generation.Timeout.String()
	out.Tasks.TTLRaw = c.Tasks.TTL.String()

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	header := "# xeno-gateway configuration\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
