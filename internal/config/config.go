package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/user/photostream/internal/retry"
	"github.com/user/photostream/pkg/photostream"
)

type Config struct {
	DataDir  string `json:"data_dir" yaml:"data_dir" validate:"required"`
	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Endpoint struct {
		URL     string                  `json:"url" yaml:"url" validate:"required,url"`
		Token   string                  `json:"token,omitempty" yaml:"token,omitempty"`
		Options map[string]string       `json:"options,omitempty" yaml:"options,omitempty"`
		Headers map[string]string       `json:"headers,omitempty" yaml:"headers,omitempty"`
		Trust   photostream.TrustConfig `json:"trust" yaml:"trust"`
	} `json:"endpoint" yaml:"endpoint"`
	Images struct {
		BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty" validate:"omitempty,url"`
		TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
		MaxConcurrent  int    `json:"max_concurrent" yaml:"max_concurrent" validate:"gte=1"`
		MaxAttempts    int    `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	} `json:"images" yaml:"images"`
	Cache struct {
		Backend       string `json:"backend" yaml:"backend" validate:"oneof=file sqlite"`
		Dir           string `json:"dir,omitempty" yaml:"dir,omitempty"`
		PruneSchedule string `json:"prune_schedule,omitempty" yaml:"prune_schedule,omitempty"`
		MaxAgeHours   int    `json:"max_age_hours" yaml:"max_age_hours" validate:"gte=0"`
	} `json:"cache" yaml:"cache"`
	Reconnect struct {
		MaxAttempts    int `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
		InitialDelayMs int `json:"initial_delay_ms" yaml:"initial_delay_ms" validate:"gte=0"`
		MaxDelayMs     int `json:"max_delay_ms" yaml:"max_delay_ms" validate:"gte=0"`
	} `json:"reconnect" yaml:"reconnect"`
	HTTP struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Listen  string `json:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
	} `json:"http" yaml:"http"`
	Telegram struct {
		Token  string `json:"token,omitempty" yaml:"token,omitempty"`
		ChatID int64  `json:"chat_id,omitempty" yaml:"chat_id,omitempty" validate:"required_with=Token"`
	} `json:"telegram" yaml:"telegram"`
}

// Default returns the configuration written on first load.
func Default() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".photostream"),
		LogLevel: "info",
	}
	cfg.Endpoint.Trust.Mode = photostream.TrustSystem
	cfg.Images.TimeoutSeconds = 30
	cfg.Images.MaxConcurrent = 2
	cfg.Images.MaxAttempts = 3
	cfg.Cache.Backend = "file"
	cfg.Cache.PruneSchedule = "@hourly"
	cfg.Cache.MaxAgeHours = 24 * 7
	cfg.Reconnect.InitialDelayMs = 1000
	cfg.Reconnect.MaxDelayMs = 30000
	cfg.HTTP.Listen = "127.0.0.1:9464"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if u := os.Getenv("PHOTOSTREAM_URL"); u != "" {
		cfg.Endpoint.URL = u
	}
	if token := os.Getenv("PHOTOSTREAM_TOKEN"); token != "" {
		cfg.Endpoint.Token = token
	}
	if base := os.Getenv("PHOTOSTREAM_IMAGE_BASE_URL"); base != "" {
		cfg.Images.BaseURL = base
	}
	if trust := os.Getenv("PHOTOSTREAM_TRUST"); trust != "" {
		cfg.Endpoint.Trust.Mode = photostream.TrustMode(trust)
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields needed to run the listener.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("invalid config: http.listen is required when http.enabled is set")
	}
	return nil
}

// CacheDir is where the file cache keeps images.
func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.DataDir, "images")
}

// CacheDBPath is the SQLite database of the sqlite cache backend.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.CacheDir(), "cache.db")
}

func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "photostream.pid")
}

// ImageTimeout bounds one new_photo image fetch.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Images.TimeoutSeconds) * time.Second
}

// MaxAge is how long cached images are kept by the prune job. Zero keeps
// them forever.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}

// ImagePolicy is the retry policy of one image fetch.
func (c *Config) ImagePolicy() *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Images.MaxAttempts
	return p
}

// ReconnectPolicy spaces reconnect attempts. MaxAttempts of zero retries
// forever.
func (c *Config) ReconnectPolicy() *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Reconnect.MaxAttempts
	if c.Reconnect.InitialDelayMs > 0 {
		p.InitialDelay = time.Duration(c.Reconnect.InitialDelayMs) * time.Millisecond
	}
	if c.Reconnect.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
	}
	return p
}

// ChannelOptions returns the transport query options, with the token added
// unless options already carry one.
func (c *Config) ChannelOptions() map[string]string {
	opts := make(map[string]string, len(c.Endpoint.Options)+1)
	for k, v := range c.Endpoint.Options {
		opts[k] = v
	}
	if c.Endpoint.Token != "" {
		if _, ok := opts["token"]; !ok {
			opts["token"] = c.Endpoint.Token
		}
	}
	return opts
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically, in YAML for .yaml/.yml paths and JSON
// otherwise.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into the generic map form used by Flatten. Numbers
// become float64, as with any JSON document.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, optionally with secrets
// masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw reads the config file as a generic document. YAML documents are
// normalized through JSON so both formats yield the same value types.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if isYAML(path) {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		normalized, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalize %s: %w", path, err)
		}
		data = normalized
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key. The file is
// created with defaults if it does not exist yet.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key. Values that parse as
// JSON (numbers, booleans) are stored typed; anything else as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var typed any
	if err := json.Unmarshal([]byte(value), &typed); err != nil {
		typed = value
	}

	flat := Flatten(m)
	flat[key] = typed
	data, err := marshal(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
