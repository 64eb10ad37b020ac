package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/c360/framerelay/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "FRAMERELAY"

// durationKeys are config keys whose string values are parsed as durations
var durationKeys = map[string]bool{
	"stop_timeout":   true,
	"initial_delay":  true,
	"max_delay":      true,
	"write_timeout":  true,
	"reconnect_wait": true,
	"flush_interval": true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, each file layer, then environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads one file into a generic map, choosing the parser by extension
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".jsonc":
		data = jsonc.ToJSON(data)
		fallthrough
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings such as "5s" to nanoseconds, at any depth
func parseDurations(m map[string]any) error {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			m[k] = d.Nanoseconds()
		}
	}
	return nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
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

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies FRAMERELAY_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		val, ok := l.env(name)
		if !ok {
			return nil
		}
		if err := validateEnvVar(name, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}
	boolean := func(name string, dst *bool) error {
		val, ok := l.env(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	var restartPolicy string
	steps := []error{
		str("WORKER_COMMAND", &cfg.Worker.Command),
		str("WORKER_DIR", &cfg.Worker.Dir),
		str("WORKER_RESTART", &restartPolicy),
		str("HTTP_ADDR", &cfg.HTTP.Addr),
		str("HTTP_STATIC_DIR", &cfg.HTTP.StaticDir),
		str("BROADCAST_TOPIC", &cfg.Broadcast.Topic),
		boolean("NATS_ENABLED", &cfg.NATS.Enabled),
		str("NATS_URL", &cfg.NATS.URL),
		str("NATS_SUBJECT_PREFIX", &cfg.NATS.SubjectPrefix),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("SCHEMA_PATH", &cfg.Schema.Path),
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
		boolean("STREAM_FLUSH_ON_CLOSE", &cfg.Stream.FlushOnClose),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	if restartPolicy != "" {
		cfg.Worker.Restart = restartPolicy
	}

	if val, ok := l.env("WORKER_ARGS"); ok {
		cfg.Worker.Args = strings.Fields(val)
	}
	return nil
}

func (l *Loader) env(name string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}
