package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/semlink/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "SEMLINK"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	envPrefix  string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load validate and default the merged configuration
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
}

// LoadFile loads a single configuration file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load layer %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged layers")
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer into a generic map. YAML layers are converted
// so that both formats merge the same way.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	return raw, nil
}

// deepMergeMaps recursively merges override into base. Arrays and scalars
// are replaced, nested objects are merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		overrideMap, ok := v.(map[string]any)
		if !ok {
			result[k] = v
			continue
		}
		if baseMap, ok := result[k].(map[string]any); ok {
			result[k] = deepMergeMaps(baseMap, overrideMap)
		} else {
			result[k] = overrideMap
		}
	}
	return result
}

// applyEnvOverrides applies PREFIX_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(suffix string) (string, bool, error) {
		key := l.envPrefix + "_" + suffix
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		return val, true, nil
	}

	strs := []struct {
		suffix string
		dst    *string
	}{
		{"PLATFORM_ID", &cfg.Platform.ID},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"NATS_EVENTS_SUBJECT", &cfg.NATS.EventsSubject},
		{"WIRING_BUCKET", &cfg.Wiring.Bucket},
	}
	for _, s := range strs {
		val, ok, err := lookup(s.suffix)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := lookup("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = nil
		for _, u := range strings.Split(val, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.NATS.URLs = append(cfg.NATS.URLs, u)
			}
		}
	}

	ints := []struct {
		suffix string
		dst    *int
	}{
		{"HTTP_PORT", &cfg.HTTP.Port},
		{"METRICS_PORT", &cfg.Metrics.Port},
		{"MANAGER_QUEUE_SIZE", &cfg.Manager.QueueSize},
	}
	for _, i := range ints {
		val, ok, err := lookup(i.suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, i.suffix, val),
				"Loader", "applyEnvOverrides", "parse integer")
		}
		*i.dst = n
	}

	if val, ok, err := lookup("MANAGER_AUTO_CONNECT"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s_MANAGER_AUTO_CONNECT=%q", errors.ErrInvalidConfig, l.envPrefix, val),
				"Loader", "applyEnvOverrides", "parse bool")
		}
		cfg.Manager.AutoConnect = b
	}
	return nil
}

// Load reads, merges and validates the given layers with default settings
func Load(paths ...string) (*Config, error) {
	l := NewLoader()
	for _, p := range paths {
		l.AddLayer(p)
	}
	l.EnableValidation(true)
	return l.Load()
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Use secure file writing with validation
	return safeWriteFile(path, data)
}
