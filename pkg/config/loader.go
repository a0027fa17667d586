package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mocdown/mocdown/pkg/engine"
)

// EnvPrefix prefixes environment overrides, e.g. MOCDOWN_DEPLETION_THREADS.
const EnvPrefix = "MOCDOWN"

// Keys below these prefixes are free-form.
var openPrefixes = []string{"feedback.parameters.", "recycle.fuel_parameters.", "transport.env.", "transmute.env."}

// Loader reads, merges and validates configuration.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
	}
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. YAML and JSON files are read as such; any other
// file is read as a legacy "key = value" input. An empty path loads the
// defaults and the environment only.
func (l *Loader) Load(path string) (*Config, error) {
	v := viper.New()

	defaults, err := defaultSettings()
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, invalid(path, fmt.Errorf("failed to read config: %w", err))
			}
		default:
			f, err := os.Open(path)
			if err != nil {
				return nil, invalid(path, fmt.Errorf("failed to open legacy input: %w", err))
			}
			settings, err := ParseLegacy(f)
			f.Close()
			if err != nil {
				return nil, invalid(path, err)
			}
			if err := v.MergeConfigMap(nest(settings)); err != nil {
				return nil, invalid(path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := checkKeys(v.AllKeys(), defaults); err != nil {
		return nil, invalid(path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, invalid(path, fmt.Errorf("failed to decode config: %w", err))
	}
	cfg.Telemetry.ServiceVersion = Default().Telemetry.ServiceVersion

	doc, err := jsonDocument(cfg)
	if err != nil {
		return nil, err
	}
	if err := l.schemas.Validate(SchemaConfig, doc); err != nil {
		return nil, invalid(path, err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, invalid(path, err)
	}
	return cfg, nil
}

// Load reads a configuration with a fresh Loader.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Validate checks field constraints and the consistency of the schedule.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return err
	}

	d := cfg.Depletion
	if len(d.StepPowers) > 0 && len(d.StepFluxes) > 0 {
		return fmt.Errorf("depletion: step powers and step fluxes are exclusive")
	}
	if d.Power > 0 && d.Flux > 0 {
		return fmt.Errorf("depletion: power and flux are exclusive")
	}
	if (len(d.StepPowers) > 0 || len(d.StepFluxes) > 0) && (d.Power > 0 || d.Flux > 0) {
		return fmt.Errorf("depletion: per-step rates exclude a single power or flux")
	}
	if len(d.StepTimeIntervals) > 0 {
		if d.Time > 0 {
			return fmt.Errorf("depletion: step time intervals exclude a total time")
		}
		for name, rates := range map[string][]float64{"powers": d.StepPowers, "fluxes": d.StepFluxes} {
			if len(rates) > 0 && len(rates) != len(d.StepTimeIntervals) {
				return fmt.Errorf("depletion: %d step %s for %d time intervals", len(rates), name, len(d.StepTimeIntervals))
			}
		}
	}
	if d.MinimumBurnupStep > d.MaximumBurnupStep || d.MinimumFluenceStep > d.MaximumFluenceStep {
		return fmt.Errorf("depletion: minimum step exceeds maximum step")
	}
	if r := cfg.Transport.Remote; r.Enabled() {
		if r.KeyFile == "" && r.Password == "" {
			return fmt.Errorf("transport.remote: a key file or a password is required")
		}
		if r.KnownHosts == "" && !r.InsecureIgnoreHostKey {
			return fmt.Errorf("transport.remote: known hosts are required unless host keys are ignored")
		}
	}
	if strings.Count(cfg.Libraries.PathTemplate, "%s") != 1 {
		return fmt.Errorf("libraries: path template %q needs exactly one %%s", cfg.Libraries.PathTemplate)
	}
	return nil
}

// YAML renders cfg as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func invalid(path string, err error) error {
	return engine.NewPermanentError("invalid configuration", err).
		WithCode(engine.ErrCodeValidation).
		WithResource(path).
		WithOperation("load config")
}

// defaultSettings flattens Default() into dotted keys.
func defaultSettings() (map[string]interface{}, error) {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	out := make(map[string]interface{})
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, tree map[string]interface{}, out map[string]interface{}) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok && len(sub) > 0 {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

// nest turns dotted keys into the nested maps viper merges.
func nest(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range settings {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
				m[p] = sub
			}
			m = sub
		}
		m[parts[len(parts)-1]] = value
	}
	return out
}

func checkKeys(keys []string, known map[string]interface{}) error {
	names := make([]string, 0, len(known))
	for k := range known {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, key := range keys {
		if _, ok := known[key]; ok {
			continue
		}
		if isOpen(key) {
			continue
		}
		return unknownKeyError(key, names)
	}
	return nil
}

func isOpen(key string) bool {
	for _, p := range openPrefixes {
		if strings.HasPrefix(key, p) || key+"." == p {
			return true
		}
	}
	return false
}

// unknownKeyError names the closest known key when one is near enough to
// be a typo.
func unknownKeyError(key string, candidates []string) error {
	best, distance := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(key), strings.ToLower(c))
		if distance < 0 || d < distance {
			best, distance = c, d
		}
	}
	limit := len(key) / 3
	if limit < 2 {
		limit = 2
	}
	if distance >= 0 && distance <= limit {
		return fmt.Errorf("unknown configuration key %q (did you mean %q?)", key, best)
	}
	return fmt.Errorf("unknown configuration key %q", key)
}

// jsonDocument converts a decoded configuration into the plain values the
// schema validator expects.
func jsonDocument(cfg *Config) (interface{}, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(js, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return doc, nil
}
