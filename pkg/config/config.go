// Package config loads sessionstate settings from files or host attribute maps.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/versioning"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Version providers accepted in VersioningConfig.Provider.
const (
	ProviderNone   = "none"
	ProviderFixed  = "fixed"
	ProviderAuto   = "auto"
	ProviderCustom = "custom"
)

// DefaultVersionEnv is read by the custom provider when no variable is configured.
const DefaultVersionEnv = "SESSIONSTATE_VERSION"

// Config is the root configuration.
type Config struct {
	Redis      RedisConfig      `yaml:"redis" json:"redis" mapstructure:"redis"`
	Session    SessionConfig    `yaml:"session" json:"session" mapstructure:"session"`
	Versioning VersioningConfig `yaml:"versioning" json:"versioning" mapstructure:"versioning"`
	Expiry     ExpiryConfig     `yaml:"expiry" json:"expiry" mapstructure:"expiry"`
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption" mapstructure:"encryption"`
	LogLevel   string           `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
}

// RedisConfig locates the session store.
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	Password  string        `yaml:"password" json:"password" mapstructure:"password"`
	DB        int           `yaml:"db" json:"db" mapstructure:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix" mapstructure:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl" json:"lock_ttl" mapstructure:"lock_ttl"`
}

// SessionConfig holds per-request session settings.
type SessionConfig struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"`
}

// VersioningConfig selects how the current version is resolved.
type VersioningConfig struct {
	Provider string `yaml:"provider" json:"provider" mapstructure:"provider"`
	// Version is the literal for "fixed" and the fallback for "auto" and "custom".
	Version string `yaml:"version" json:"version" mapstructure:"version"`
	// Env names the variable read by "custom".
	Env string `yaml:"env" json:"env" mapstructure:"env"`
}

// ExpiryConfig tunes the local expiry predictor.
type ExpiryConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval" mapstructure:"polling_interval"`
	Guard           time.Duration `yaml:"guard" json:"guard" mapstructure:"guard"`
	// Grace keeps records in the store past their timeout so a local eviction still finds them.
	Grace    time.Duration `yaml:"grace" json:"grace" mapstructure:"grace"`
	Capacity uint64        `yaml:"capacity" json:"capacity" mapstructure:"capacity"`
}

// EncryptionConfig seals session items at rest. Keys are base64 encoded 32 byte AES keys.
// An empty Key disables encryption.
type EncryptionConfig struct {
	Key          string   `yaml:"key" json:"key" mapstructure:"key"`
	FallbackKeys []string `yaml:"fallback_keys" json:"fallback_keys" mapstructure:"fallback_keys"`
}

// Enabled reports whether a key is configured.
func (c EncryptionConfig) Enabled() bool {
	return c.Key != ""
}

// Keys decodes the active and fallback keys.
func (c EncryptionConfig) Keys() ([]byte, [][]byte, error) {
	active, err := decodeKey(c.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption.key: %w", err)
	}
	fallback := make([][]byte, 0, len(c.FallbackKeys))
	for i, k := range c.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Default returns the configuration used for missing keys.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "sessionstate:",
			LockTTL:   2 * time.Minute,
		},
		Session: SessionConfig{
			Timeout:        domain.DefaultTimeout,
			RequestTimeout: 5 * time.Second,
		},
		Versioning: VersioningConfig{
			Provider: ProviderAuto,
		},
		Expiry: ExpiryConfig{
			Enabled:         true,
			PollingInterval: time.Second,
			Guard:           time.Second,
			Grace:           domain.DefaultGrace,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML or JSON file over Default. A missing file yields Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("%w: failed to parse %s: %w", domain.ErrInvalidConfig, path, err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("%w: failed to parse %s: %w", domain.ErrInvalidConfig, path, err)
		}
	}
	return FromMap(raw)
}

// FromMap decodes host-provided attributes over Default.
// Keys may be nested ({"session": {"timeout": "20m"}}) or dotted ("session.timeout").
// Durations accept Go duration strings; numbers are read as seconds.
func FromMap(attrs map[string]any) (Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(expand(attrs)); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// expand turns dotted keys into nested maps.
func expand(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if nested, ok := value.(map[string]any); ok {
			if existing, ok := node[leaf].(map[string]any); ok {
				for k, v := range expand(nested) {
					existing[k] = v
				}
				continue
			}
			value = expand(nested)
		}
		node[leaf] = value
	}
	return out
}

func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// Validate reports settings that cannot run.
func (c Config) Validate() error {
	var problems []string
	if c.Session.Timeout <= 0 {
		problems = append(problems, "session.timeout must be positive")
	}
	if c.Session.RequestTimeout <= 0 {
		problems = append(problems, "session.request_timeout must be positive")
	}
	switch c.Versioning.Provider {
	case ProviderNone, ProviderAuto, ProviderCustom:
	case ProviderFixed:
		if c.Versioning.Version == "" {
			problems = append(problems, "versioning.version is required by the fixed provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown versioning.provider %q", c.Versioning.Provider))
	}
	if c.Expiry.Enabled && c.Expiry.PollingInterval <= 0 {
		problems = append(problems, "expiry.polling_interval must be positive")
	}
	if c.Expiry.Guard < 0 || c.Expiry.Grace < 0 {
		problems = append(problems, "expiry.guard and expiry.grace must not be negative")
	}
	if c.Encryption.Enabled() {
		if _, _, err := c.Encryption.Keys(); err != nil {
			problems = append(problems, err.Error())
		}
	} else if len(c.Encryption.FallbackKeys) > 0 {
		problems = append(problems, "encryption.fallback_keys requires encryption.key")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Source builds the version source described by c.
func (c VersioningConfig) Source() versioning.Source {
	switch c.Provider {
	case ProviderNone:
		return versioning.Disabled()
	case ProviderFixed:
		return versioning.Fixed(c.Version)
	case ProviderCustom:
		env := c.Env
		if env == "" {
			env = DefaultVersionEnv
		}
		return versioning.Custom(func() (string, error) {
			v, ok := os.LookupEnv(env)
			if !ok {
				return "", fmt.Errorf("%s is not set", env)
			}
			return v, nil
		}, c.Version)
	}
	return versioning.Auto(c.Version)
}
