package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brettbedarf/blobtree/internal/util"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Log verbosity values accepted by [ConfigOverride.LogLvl], 1 (error) to 5 (trace).
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	// DefaultWorkers bounds concurrent per-key store calls within one tree operation
	DefaultWorkers = 4

	// DefaultDeleteBatchSize is the number of keys per Remove call; stores may lower it
	DefaultDeleteBatchSize = 100

	// DefaultMaxAttempts is the total number of tries for a per-key call on transient errors
	DefaultMaxAttempts = 3

	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 2 * time.Second

	// DefaultCallTimeout bounds each single store call attempt, not a whole tree operation
	DefaultCallTimeout = 30 * time.Second

	DefaultStoreType = "badger"
	DefaultStorePath = ".blobtree"

	DefaultFsName = "blobtree"
	DefaultName   = "blobtree"

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0
)

// Config contains runtime configuration values for the engine, its store and
// the optional mount.
type Config struct {
	MountOptions

	LogLvl util.LogLevel `validate:"gte=0,lte=4"`

	Workers         int           `validate:"min=1,max=256"`  // Max concurrent per-key store calls (Default 4)
	DeleteBatchSize int           `validate:"min=1,max=1000"` // Keys per batched remove (Default 100)
	MaxAttempts     int           `validate:"min=1,max=10"`   // Tries per key on transient errors (Default 3)
	RetryBaseDelay  time.Duration `validate:"gt=0"`           // First backoff, doubled per retry (Default 100ms)
	RetryMaxDelay   time.Duration `validate:"gtefield=RetryBaseDelay"`
	CallTimeout     time.Duration `validate:"gt=0"` // Per store call attempt (Default 30s)

	Store StoreConfig

	// NOTE: FUSE settings, only used by the mount command

	AttrTimeout  float64 `validate:"gte=0"` // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 `validate:"gte=0"` // Directory entry cache timeout in seconds (Default 1.0)

	MetricsAddr string `validate:"omitempty,hostname_port"` // Prometheus listen address, empty disables
}

// MountOptions holds high-level settings for mounting the tree with FUSE.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug  bool   // fuse debug logs
	FsName string // mount's FsName
	Name   string // mount's Name
}

// StoreConfig selects a blob store backend. Settings holds the backend
// specific fields (including "type") exactly as found in the config file.
type StoreConfig struct {
	Type     string `validate:"required"`
	Settings map[string]any
}

// Raw encodes the store settings as the JSON object expected by
// adapters.GetFactory.
func (s StoreConfig) Raw() ([]byte, error) {
	m := make(map[string]any, len(s.Settings)+1)
	for k, v := range s.Settings {
		m[k] = v
	}
	m["type"] = s.Type
	return json.Marshal(m)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
// Durations are given in milliseconds.
type ConfigOverride struct {
	LogLvl           *int           `yaml:"log_level,omitempty" json:"log_level,omitempty"` // verbosity 1 (error) .. 5 (trace)
	Workers          *int           `yaml:"workers,omitempty" json:"workers,omitempty"`
	DeleteBatchSize  *int           `yaml:"delete_batch_size,omitempty" json:"delete_batch_size,omitempty"`
	MaxAttempts      *int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	RetryBaseDelayMs *int           `yaml:"retry_base_delay_ms,omitempty" json:"retry_base_delay_ms,omitempty"`
	RetryMaxDelayMs  *int           `yaml:"retry_max_delay_ms,omitempty" json:"retry_max_delay_ms,omitempty"`
	CallTimeoutMs    *int           `yaml:"call_timeout_ms,omitempty" json:"call_timeout_ms,omitempty"`
	Store            map[string]any `yaml:"store,omitempty" json:"store,omitempty"`
	FsName           *string        `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name             *string        `yaml:"name,omitempty" json:"name,omitempty"`
	Debug            *bool          `yaml:"debug,omitempty" json:"debug,omitempty"`
	AttrTimeout      *float64       `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout     *float64       `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	MetricsAddr      *string        `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:          DefaultLogLvl,
		Workers:         DefaultWorkers,
		DeleteBatchSize: DefaultDeleteBatchSize,
		MaxAttempts:     DefaultMaxAttempts,
		RetryBaseDelay:  DefaultRetryBaseDelay,
		RetryMaxDelay:   DefaultRetryMaxDelay,
		CallTimeout:     DefaultCallTimeout,
		Store: StoreConfig{
			Type:     DefaultStoreType,
			Settings: map[string]any{"path": DefaultStorePath},
		},
		AttrTimeout:  DefaultAttrTimeout,
		EntryTimeout: DefaultEntryTimeout,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = util.LevelFromVerbosity(*override.LogLvl)
	}
	if override.Workers != nil {
		c.Workers = *override.Workers
	}
	if override.DeleteBatchSize != nil {
		c.DeleteBatchSize = *override.DeleteBatchSize
	}
	if override.MaxAttempts != nil {
		c.MaxAttempts = *override.MaxAttempts
	}
	if override.RetryBaseDelayMs != nil {
		c.RetryBaseDelay = time.Duration(*override.RetryBaseDelayMs) * time.Millisecond
	}
	if override.RetryMaxDelayMs != nil {
		c.RetryMaxDelay = time.Duration(*override.RetryMaxDelayMs) * time.Millisecond
	}
	if override.CallTimeoutMs != nil {
		c.CallTimeout = time.Duration(*override.CallTimeoutMs) * time.Millisecond
	}
	if override.Store != nil {
		typ, _ := override.Store["type"].(string)
		c.Store = StoreConfig{Type: typ, Settings: override.Store}
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.MetricsAddr != nil {
		c.MetricsAddr = *override.MetricsAddr
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults
// and validating the result.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
