package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/peerconf/internal/envx"
	"github.com/eugenenazirov/peerconf/internal/overlay"
	"github.com/eugenenazirov/peerconf/internal/secrets"
)

const (
	defaultPort           = "8080"
	defaultConfigDir      = "/etc/peering-manager/config"
	defaultScriptsDir     = "/opt/peering-manager/startup_scripts"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Config aggregates the bootstrap configuration: where settings and startup
// scripts live and how the introspection server runs.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	ConfigDir            string        `yaml:"config_dir"`
	MainConfig           string        `yaml:"main_config"`
	ConfigSuffix         string        `yaml:"config_suffix"`
	SecretsDir           string        `yaml:"secrets_dir"`
	ScriptsDir           string        `yaml:"scripts_dir"`
	ScriptsLock          string        `yaml:"scripts_lock"`
	SkipStartupScripts   bool          `yaml:"skip_startup_scripts"`
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	RateLimitRPS         float64       `yaml:"-"`
	RateLimitBurst       int           `yaml:"-"`
}

// yamlConfig represents the YAML configuration file structure. Pointers tell
// "not set" apart from zero values.
type yamlConfig struct {
	ConfigDir            string        `yaml:"config_dir"`
	MainConfig           string        `yaml:"main_config"`
	ConfigSuffix         string        `yaml:"config_suffix"`
	SecretsDir           string        `yaml:"secrets_dir"`
	ScriptsDir           string        `yaml:"scripts_dir"`
	ScriptsLock          string        `yaml:"scripts_lock"`
	SkipStartupScripts   *bool         `yaml:"skip_startup_scripts"`
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile         string
	ConfigDir          *string
	ScriptsDir         *string
	Port               *string
	LogLevel           *string
	SkipStartupScripts *bool
	RateLimitRPS       *float64
	RateLimitBurst     *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
//
// env is read for the PEERCONF_*, PORT, LOG_LEVEL and related variables. A
// nil env reads the process environment.
func Load(env *envx.Accessor, overrides *CLIOverrides) (Config, error) {
	if env == nil {
		env = envx.New(nil)
	}
	cfg := defaultConfig()

	// Environment has the lowest precedence above defaults
	if err := applyEnvConfig(&cfg, env); err != nil {
		return Config{}, err
	}

	// YAML overrides environment
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		ConfigDir:            defaultConfigDir,
		MainConfig:           overlay.DefaultMain,
		ConfigSuffix:         overlay.DefaultSuffix,
		SecretsDir:           secrets.DefaultRoot,
		ScriptsDir:           defaultScriptsDir,
		Port:                 defaultPort,
		LogLevel:             defaultLogLevel,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	setString(&cfg.ConfigDir, yamlCfg.ConfigDir)
	setString(&cfg.MainConfig, yamlCfg.MainConfig)
	setString(&cfg.ConfigSuffix, yamlCfg.ConfigSuffix)
	setString(&cfg.SecretsDir, yamlCfg.SecretsDir)
	setString(&cfg.ScriptsDir, yamlCfg.ScriptsDir)
	setString(&cfg.ScriptsLock, yamlCfg.ScriptsLock)
	setString(&cfg.Port, yamlCfg.Port)
	setString(&cfg.LogLevel, yamlCfg.LogLevel)

	if yamlCfg.SkipStartupScripts != nil {
		cfg.SkipStartupScripts = *yamlCfg.SkipStartupScripts
	}
	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.field = value
	}

	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration. Empty
// variables count as unset; malformed values are errors.
func applyEnvConfig(cfg *Config, env *envx.Accessor) error {
	get := func(name string) string {
		return strings.TrimSpace(env.String(name, ""))
	}

	setString(&cfg.ConfigDir, get("PEERCONF_CONFIG_DIR"))
	setString(&cfg.MainConfig, get("PEERCONF_MAIN_CONFIG"))
	setString(&cfg.ConfigSuffix, get("PEERCONF_CONFIG_SUFFIX"))
	setString(&cfg.SecretsDir, get("PEERCONF_SECRETS_DIR"))
	setString(&cfg.ScriptsDir, get("PEERCONF_SCRIPTS_DIR"))
	setString(&cfg.ScriptsLock, get("PEERCONF_SCRIPTS_LOCK"))
	setString(&cfg.Port, get("PORT"))
	setString(&cfg.LogLevel, get("LOG_LEVEL"))

	if get("SKIP_STARTUP_SCRIPTS") != "" {
		cfg.SkipStartupScripts = env.Bool("SKIP_STARTUP_SCRIPTS", "false")
	}
	if get("ENABLE_REQUEST_LOGGING") != "" {
		cfg.EnableRequestLogging = env.Bool("ENABLE_REQUEST_LOGGING", "true")
	}

	var err error
	if get("RATE_LIMIT_RPS") != "" {
		if cfg.RateLimitRPS, err = env.Float("RATE_LIMIT_RPS", ""); err != nil {
			return err
		}
	}
	if get("RATE_LIMIT_BURST") != "" {
		if cfg.RateLimitBurst, err = env.Int("RATE_LIMIT_BURST", ""); err != nil {
			return err
		}
	}
	if get("SHUTDOWN_GRACE_PERIOD") != "" {
		if cfg.ShutdownGracePeriod, err = env.Duration("SHUTDOWN_GRACE_PERIOD", ""); err != nil {
			return err
		}
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.ConfigDir != nil && *overrides.ConfigDir != "" {
		cfg.ConfigDir = *overrides.ConfigDir
	}
	if overrides.ScriptsDir != nil && *overrides.ScriptsDir != "" {
		cfg.ScriptsDir = *overrides.ScriptsDir
	}
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.SkipStartupScripts != nil && *overrides.SkipStartupScripts {
		cfg.SkipStartupScripts = true
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.ConfigDir == "" {
		return fmt.Errorf("configuration directory cannot be empty")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be positive")
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
