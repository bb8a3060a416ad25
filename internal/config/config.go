// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/logging"
	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/session"
	"github.com/jeranaias/gradchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTS
// =============================================================================

// Config is the top-level configuration.
type Config struct {
	API          APIConfig          `toml:"api" json:"api" yaml:"api"`
	Generation   GenerationConfig   `toml:"generation" json:"generation" yaml:"generation"`
	Conversation ConversationConfig `toml:"conversation" json:"conversation" yaml:"conversation"`
	Log          LogConfig          `toml:"log" json:"log" yaml:"log"`
	Storage      StorageConfig      `toml:"storage" json:"storage" yaml:"storage"`
	Metrics      MetricsConfig      `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// APIConfig holds chat service connection settings.
type APIConfig struct {
	// BaseURL is the API root; /generate and /model_info are resolved against it
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// TimeoutSecs bounds one HTTP request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
}

// GenerationConfig holds the defaults applied to each request.
type GenerationConfig struct {
	Model          string `toml:"model" json:"model" yaml:"model"`
	ClusterMode    string `toml:"cluster_mode" json:"cluster_mode" yaml:"cluster_mode"`
	ContextSize    int    `toml:"context_size" json:"context_size" yaml:"context_size"`
	MaxContextSize int    `toml:"max_context_size" json:"max_context_size" yaml:"max_context_size"`
	EnableThinking bool   `toml:"enable_thinking" json:"enable_thinking" yaml:"enable_thinking"`
}

// ConversationConfig bounds in-memory history.
type ConversationConfig struct {
	MaxHistory       int  `toml:"max_history" json:"max_history" yaml:"max_history"`
	MergeConsecutive bool `toml:"merge_consecutive" json:"merge_consecutive" yaml:"merge_consecutive"`
}

// LogConfig controls diagnostics and per-run exchange logs.
type LogConfig struct {
	// Dir is the parent of the per-run directories
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Level is the zap level: debug, info, warn, error
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "console" or "json"
	Format string `toml:"format" json:"format" yaml:"format"`

	// RunLogs enables the per-run exchange files and transcript
	RunLogs bool `toml:"run_logs" json:"run_logs" yaml:"run_logs"`

	// Compress stores exchange files as .json.zst
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// StorageConfig locates the session archive.
type StorageConfig struct {
	Path        string `toml:"path" json:"path" yaml:"path"`
	MaxSessions int    `toml:"max_sessions" json:"max_sessions" yaml:"max_sessions"`
}

// MetricsConfig controls the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultTimeoutSecs = 120
	DefaultLogLevel    = "warn"
	DefaultLogFormat   = logging.FormatConsole
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     gradient.DefaultBaseURL,
			TimeoutSecs: DefaultTimeoutSecs,
		},
		Generation: GenerationConfig{
			Model:          gradient.DefaultModel,
			ClusterMode:    gradient.DefaultClusterMode,
			ContextSize:    chat.DefaultContextSize,
			MaxContextSize: chat.DefaultMaxContextSize,
		},
		Conversation: ConversationConfig{
			MaxHistory: model.DefaultMaxHistory,
		},
		Log: LogConfig{
			Dir:     filepath.Join(ConfigDir(), "logs"),
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			RunLogs: true,
		},
		Storage: StorageConfig{
			Path: filepath.Join(ConfigDir(), "sessions.db"),
		},
	}
}

// SetDefaults fills empty or zero fields that would otherwise leave a
// component unusable.
func (c *Config) SetDefaults() {
	d := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.Generation.Model == "" {
		c.Generation.Model = d.Generation.Model
	}
	if c.Generation.ClusterMode == "" {
		c.Generation.ClusterMode = d.Generation.ClusterMode
	}
	if c.Generation.ContextSize == 0 {
		c.Generation.ContextSize = d.Generation.ContextSize
	}
	if c.Generation.MaxContextSize == 0 {
		c.Generation.MaxContextSize = d.Generation.MaxContextSize
	}
	if c.Conversation.MaxHistory == 0 {
		c.Conversation.MaxHistory = d.Conversation.MaxHistory
	}
	if c.Log.Dir == "" {
		c.Log.Dir = d.Log.Dir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Config file names, tried in this order by Load.
const (
	FileTOML = "config.toml"
	FileYAML = "config.yaml"
	FileJSON = "config.json"
)

// ConfigDir returns the configuration directory: $GRADCHAT_HOME, or
// ~/.gradchat.
func ConfigDir() string {
	if dir := os.Getenv("GRADCHAT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gradchat"
	}
	return filepath.Join(home, ".gradchat")
}

// ConfigPath returns the default TOML config path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), FileTOML)
}

// FindConfigFile returns the config file Load would read, or "" when there
// is none.
func FindConfigFile() string {
	for _, name := range []string{FileTOML, FileYAML, FileJSON} {
		path := filepath.Join(ConfigDir(), name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// EnsureConfigDir creates the config directory if it does not exist.
// SECURITY: The directory may hold conversation logs; owner-only access.
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0700)
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the first config file found in ConfigDir (TOML, YAML, then
// JSON), applies environment overrides and validates the result.
// With no file the defaults are used. On a read or validation error the
// defaults are returned together with the error.
func Load() (*Config, error) {
	path := FindConfigFile()
	if path == "" {
		return finish(Default())
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		return defaultsWithEnv(), err
	}
	return cfg, nil
}

// LoadFromPath reads a config file, dispatching on its extension, then
// applies environment overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// ReadFile reads a config file without environment overrides or
// validation. It is what `config set` edits.
func ReadFile(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .toml, .yaml or .json)", ext)
	}
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultsWithEnv() *Config {
	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	return cfg
}

// ApplyEnvOverrides applies GRADCHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GRADCHAT_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("GRADCHAT_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("GRADCHAT_CLUSTER_MODE"); v != "" {
		c.Generation.ClusterMode = v
	}
	if v := os.Getenv("GRADCHAT_THINKING"); v != "" {
		c.Generation.EnableThinking = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("GRADCHAT_LOG_DIR"); v != "" {
		c.Log.Dir = v
	}
	if v := os.Getenv("GRADCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GRADCHAT_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("GRADCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
}

// =============================================================================
// SAVING
// =============================================================================

const fileHeader = "# gradchat configuration\n# Environment variables (GRADCHAT_*) override these values.\n\n"

// SaveTOML writes the config as TOML.
// SECURITY: Written owner-only (0600).
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// TOML renders the config as TOML text.
func (c *Config) TOML() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors when any
// field is invalid.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil {
		add("api.base_url", "invalid URL: %v", err)
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 3600 {
		add("api.timeout_secs", "must be between 1 and 3600, got %d", c.API.TimeoutSecs)
	}

	if c.Generation.MaxContextSize < 1 || c.Generation.MaxContextSize > 100 {
		add("generation.max_context_size", "must be between 1 and 100, got %d", c.Generation.MaxContextSize)
	}
	if c.Generation.ContextSize < 1 || c.Generation.ContextSize > c.Generation.MaxContextSize {
		add("generation.context_size", "must be between 1 and max_context_size (%d), got %d",
			c.Generation.MaxContextSize, c.Generation.ContextSize)
	}

	if c.Conversation.MaxHistory < 1 {
		add("conversation.max_history", "must be at least 1, got %d", c.Conversation.MaxHistory)
	}

	if !logging.ValidLevel(c.Log.Level) {
		add("log.level", "invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != logging.FormatConsole && c.Log.Format != logging.FormatJSON {
		add("log.format", "invalid format %q, must be one of: console, json", c.Log.Format)
	}

	if c.Storage.MaxSessions < 0 {
		add("storage.max_sessions", "cannot be negative")
	}

	if c.Metrics.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			add("metrics.listen_addr", "invalid address: %v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// COMPONENT SETTINGS
// =============================================================================

// Timeout returns the HTTP timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// ChatConfig returns the generate defaults.
func (c *Config) ChatConfig() chat.Config {
	return chat.Config{
		Model:          c.Generation.Model,
		ClusterMode:    c.Generation.ClusterMode,
		ContextSize:    c.Generation.ContextSize,
		MaxContextSize: c.Generation.MaxContextSize,
		EnableThinking: c.Generation.EnableThinking,
	}
}

// SessionConfig returns the conversation settings for the session manager.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MaxHistory:       c.Conversation.MaxHistory,
		MergeConsecutive: c.Conversation.MergeConsecutive,
	}
}

// =============================================================================
// DOT-NOTATION ACCESS
// =============================================================================

// ErrUnknownKey is returned by Get and Set for keys that name no field.
var ErrUnknownKey = errors.New("unknown config key")

// Get returns the value at a dot-notation key such as "generation.model".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field at a dot-notation key.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section, not a value", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for _, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		f, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}
		v = f
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// GetAllKeys returns every leaf key in dot notation, in declaration order.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			key := prefix + tagName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, key+".")
				continue
			}
			keys = append(keys, key)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a copy of the config. All fields are values.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// =============================================================================
// GLOBAL CONFIG
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide config, loading it on first use.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, _ := Load()
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})
	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal replaces the process-wide config.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	globalConfig = cfg
	globalConfigMu.Unlock()
}

// ReloadGlobal reloads the process-wide config from disk. The current
// config is kept when loading fails.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// ResetGlobalForTesting clears the process-wide config.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
	globalConfigMu.Unlock()
}
