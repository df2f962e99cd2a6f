// Package config loads DES settings from a YAML file and DES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"

	"github.com/msageha/des/internal/extension"
	"github.com/msageha/des/internal/hook"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
)

const (
	DefaultPath = ".des/config.yaml"
	EnvPrefix   = "DES_"

	maxConfigFileSize = 1024 * 1024
)

type Config struct {
	Audit      AuditConfig      `koanf:"audit"`
	Schema     SchemaConfig     `koanf:"schema"`
	Validation ValidationConfig `koanf:"validation"`
	Extensions ExtensionsConfig `koanf:"extensions"`
	Logging    logging.Config   `koanf:"logging"`
}

type AuditConfig struct {
	LogDir string `koanf:"log_dir"`
}

type SchemaConfig struct {
	// DefaultVersion applies to step files without tdd_cycle.schema_version.
	DefaultVersion string `koanf:"default_version"`
}

type ValidationConfig struct {
	// Zero leaves the turn limit detector inert for steps without a budget.
	DefaultMaxTurns int `koanf:"default_max_turns"`
	// Zero leaves the timeout detector inert for steps without a duration.
	DefaultDurationMinutes int `koanf:"default_duration_minutes"`
	PromptBudgetMS         int `koanf:"prompt_budget_ms"`
}

type ExtensionsConfig struct {
	MinReasonLength       int     `koanf:"min_reason_length"`
	MaxPerPhase           int     `koanf:"max_per_phase"`
	MaxIncreaseRatio      float64 `koanf:"max_increase_ratio"`
	DefaultMaxTurns       int     `koanf:"default_max_turns"`
	DefaultTimeoutMinutes int     `koanf:"default_timeout_minutes"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	def := extension.DefaultPolicy()
	return &Config{
		Audit:      AuditConfig{LogDir: ".des/audit"},
		Schema:     SchemaConfig{DefaultVersion: string(model.SchemaV1)},
		Validation: ValidationConfig{PromptBudgetMS: 500},
		Extensions: ExtensionsConfig{
			MinReasonLength:       def.MinReasonLength,
			MaxPerPhase:           def.MaxPerPhase,
			MaxIncreaseRatio:      def.MaxIncreaseRatio,
			DefaultMaxTurns:       def.DefaultMaxTurns,
			DefaultTimeoutMinutes: def.DefaultTimeoutMinutes,
		},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// defaultKeys flattens Default into koanf keys. They are loaded first, so an
// explicit 0 in the file or the environment overrides them.
func defaultKeys() map[string]any {
	d := Default()
	return map[string]any{
		"audit.log_dir":                       d.Audit.LogDir,
		"schema.default_version":              d.Schema.DefaultVersion,
		"validation.default_max_turns":        d.Validation.DefaultMaxTurns,
		"validation.default_duration_minutes": d.Validation.DefaultDurationMinutes,
		"validation.prompt_budget_ms":         d.Validation.PromptBudgetMS,
		"extensions.min_reason_length":        d.Extensions.MinReasonLength,
		"extensions.max_per_phase":            d.Extensions.MaxPerPhase,
		"extensions.max_increase_ratio":       d.Extensions.MaxIncreaseRatio,
		"extensions.default_max_turns":        d.Extensions.DefaultMaxTurns,
		"extensions.default_timeout_minutes":  d.Extensions.DefaultTimeoutMinutes,
		"logging.level":                       d.Logging.Level,
		"logging.format":                      d.Logging.Format,
	}
}

// Load reads path from fs, then overrides with environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (DES_EXTENSIONS_MAX_PER_PHASE, DES_AUDIT_LOG_DIR, ...)
//  2. YAML file at path (DefaultPath when empty; a missing file is not an error)
//  3. Built-in defaults
//
// Environment keys split on the first underscore after the prefix:
//
//	DES_VALIDATION_DEFAULT_MAX_TURNS -> validation.default_max_turns
func Load(fs afero.Fs, path string) (*Config, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultPath
	}
	content, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}
	k, err := fromYAML(content, path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return finish(k)
}

// Parse builds a Config from YAML content alone, without the environment.
func Parse(content []byte) (*Config, error) {
	k, err := fromYAML(content, "content")
	if err != nil {
		return nil, err
	}
	return finish(k)
}

func fromYAML(content []byte, name string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, v := range defaultKeys() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", name, err)
		}
	}
	return k, nil
}

func finish(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readFile(fs afero.Fs, path string) ([]byte, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps DES_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// applyDefaults restores string settings left empty, which are never meaningful.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Audit.LogDir == "" {
		cfg.Audit.LogDir = d.Audit.LogDir
	}
	if cfg.Schema.DefaultVersion == "" {
		cfg.Schema.DefaultVersion = d.Schema.DefaultVersion
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, ok := model.LookupSchema(model.SchemaVersion(c.Schema.DefaultVersion)); !ok {
		errs = append(errs, fmt.Errorf("schema.default_version %q is not a known schema", c.Schema.DefaultVersion))
	}
	if c.Validation.DefaultMaxTurns < 0 {
		errs = append(errs, errors.New("validation.default_max_turns must not be negative"))
	}
	if c.Validation.DefaultDurationMinutes < 0 {
		errs = append(errs, errors.New("validation.default_duration_minutes must not be negative"))
	}
	if c.Validation.PromptBudgetMS < 0 {
		errs = append(errs, errors.New("validation.prompt_budget_ms must not be negative"))
	}
	if c.Extensions.MinReasonLength < 0 {
		errs = append(errs, errors.New("extensions.min_reason_length must not be negative"))
	}
	if c.Extensions.MaxPerPhase < 0 {
		errs = append(errs, errors.New("extensions.max_per_phase must not be negative"))
	}
	if c.Extensions.MaxIncreaseRatio < 0 {
		errs = append(errs, errors.New("extensions.max_increase_ratio must not be negative"))
	}
	if c.Extensions.DefaultMaxTurns < 1 {
		errs = append(errs, errors.New("extensions.default_max_turns must be positive"))
	}
	if c.Extensions.DefaultTimeoutMinutes < 1 {
		errs = append(errs, errors.New("extensions.default_timeout_minutes must be positive"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) DefaultSchema() model.SchemaVersion {
	return model.SchemaVersion(c.Schema.DefaultVersion)
}

func (c *Config) HookLimits() hook.Limits {
	return hook.Limits{
		DefaultMaxTurns:        c.Validation.DefaultMaxTurns,
		DefaultDurationMinutes: c.Validation.DefaultDurationMinutes,
	}
}

func (c *Config) PromptBudget() time.Duration {
	return time.Duration(c.Validation.PromptBudgetMS) * time.Millisecond
}

func (c *Config) ExtensionPolicy() extension.Policy {
	return extension.Policy{
		MinReasonLength:       c.Extensions.MinReasonLength,
		MaxPerPhase:           c.Extensions.MaxPerPhase,
		MaxIncreaseRatio:      c.Extensions.MaxIncreaseRatio,
		DefaultMaxTurns:       c.Extensions.DefaultMaxTurns,
		DefaultTimeoutMinutes: c.Extensions.DefaultTimeoutMinutes,
	}
}
