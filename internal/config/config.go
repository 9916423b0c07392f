package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	Providers Providers `yaml:"providers"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Quotas    Quotas    `yaml:"quotas"`
	Output    Output    `yaml:"output"`
	Logging   Logging   `yaml:"logging"`
}

type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Auth struct {
	JWTSecretEnv  string `yaml:"jwt_secret_env"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

type Providers struct {
	Primary   Provider `yaml:"primary"`
	Alternate Provider `yaml:"alternate"`
}

// Provider describes one text-generation backend.
type Provider struct {
	Kind           string `yaml:"kind"` // "openai" or "gemini"
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Pipeline struct {
	Phases              []string              `yaml:"phases"`
	QuotaCheck          bool                  `yaml:"quota_check"`
	QuotaMode           string                `yaml:"quota_mode"`
	PhaseTimeoutSeconds int                   `yaml:"phase_timeout_seconds"`
	Models              map[string]PhaseModel `yaml:"models"`
}

type PhaseModel struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type Quotas struct {
	FreeRwpPerWeek   int `yaml:"free_rwp_per_week"`
	PremiumRwpPerDay int `yaml:"premium_rwp_per_day"`
	PremiumTTSPerDay int `yaml:"premium_tts_per_day"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

// ConfigDir returns the XDG config directory for zhongwen.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "zhongwen")
}

// DataDir returns the XDG data directory for zhongwen.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "zhongwen")
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. An empty path means ./.env; a missing default file is not
// an error, a missing explicit one is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/zhongwen/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'zhongwen init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{Host: "127.0.0.1", Port: 8000},
		Auth:   Auth{JWTSecretEnv: "ZHONGWEN_JWT_SECRET", TokenTTLHours: 720},
		Providers: Providers{
			Primary: Provider{
				Kind:           "openai",
				BaseURL:        "https://api.openai.com/v1",
				APIKeyEnv:      "OPENAI_API_KEY",
				DefaultModel:   "gpt-4o-mini-2024-07-18",
				TimeoutSeconds: 180,
			},
			Alternate: Provider{
				Kind:           "gemini",
				BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
				APIKeyEnv:      "GEMINI_API_KEY",
				DefaultModel:   "gemini-2.0-flash",
				TimeoutSeconds: 180,
			},
		},
		Pipeline: Pipeline{
			Phases:              []string{"analysis", "story", "questions", "format"},
			QuotaCheck:          true,
			QuotaMode:           "check",
			PhaseTimeoutSeconds: 120,
		},
		Quotas: Quotas{
			FreeRwpPerWeek:   3,
			PremiumRwpPerDay: 20,
			PremiumTTSPerDay: 50,
		},
		Logging: Logging{Level: "INFO", Mode: "dev"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Pipeline.QuotaMode {
	case "check", "reserve":
	default:
		return fmt.Errorf("pipeline.quota_mode must be check or reserve, got %q", c.Pipeline.QuotaMode)
	}
	if err := validatePhases(c.Pipeline.Phases); err != nil {
		return err
	}
	for _, p := range []Provider{c.Providers.Primary, c.Providers.Alternate} {
		switch p.Kind {
		case "", "openai", "gemini":
		default:
			return fmt.Errorf("unknown provider kind %q", p.Kind)
		}
	}
	return nil
}

// validatePhases accepts the full four-phase shape or the shape without a
// separate analysis call.
func validatePhases(phases []string) error {
	want := []string{"story", "questions", "format"}
	if len(phases) > 0 && phases[0] == "analysis" {
		phases = phases[1:]
	}
	if len(phases) != len(want) {
		return fmt.Errorf("pipeline.phases must be [analysis,] story, questions, format; got %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			return fmt.Errorf("pipeline.phases must be [analysis,] story, questions, format; got %v", phases)
		}
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// APIKey returns the secret for a provider from its configured env var.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Timeout returns the HTTP timeout for the provider.
func (p Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// JWTSecret returns the token signing secret from the environment.
func (c *Config) JWTSecret() string {
	if c.Auth.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Auth.JWTSecretEnv)
}

// TokenTTL returns the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// PhaseTimeout returns the per-phase wait bound.
func (c *Config) PhaseTimeout() time.Duration {
	return c.Pipeline.PhaseTimeout()
}

// PhaseTimeout returns the per-phase wait bound; zero means unbounded.
func (p Pipeline) PhaseTimeout() time.Duration {
	if p.PhaseTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.PhaseTimeoutSeconds) * time.Second
}

// HasPhase reports whether the named phase is enabled.
func (p Pipeline) HasPhase(name string) bool {
	for _, ph := range p.Phases {
		if ph == name {
			return true
		}
	}
	return false
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
