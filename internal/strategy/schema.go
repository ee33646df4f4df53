package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"algotrader/internal/logger"
	"algotrader/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// IndicatorTemplate describes one technical-analysis indicator a
// strategy may configure, with a schema constraining its parameters.
type IndicatorTemplate struct {
	ID          string                 `mapstructure:"id" yaml:"id"`
	Description string                 `mapstructure:"description" yaml:"description"`
	Schema      map[string]interface{} `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

type schemaFileConfig struct {
	Indicators map[string]IndicatorTemplate `mapstructure:"indicators" yaml:"indicators"`
}

// SchemaSnapshot is the indicator set loaded from one read of the
// schema file.
type SchemaSnapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]IndicatorTemplate
}

// SchemaRegistry loads indicator schemas from a YAML file and reloads
// them when the file changes on disk.
type SchemaRegistry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot SchemaSnapshot
}

// NewSchemaRegistry reads the schema file at path and watches it for
// updates.
func NewSchemaRegistry(path string) (*SchemaRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("schema registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read indicator schema config failed: %w", err)
	}
	r := &SchemaRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("indicator schema reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current indicator set.
func (r *SchemaRegistry) Snapshot() SchemaSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSchemaSnapshot(r.snapshot)
}

// Template returns the indicator template for id, if loaded.
func (r *SchemaRegistry) Template(id string) (IndicatorTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.TrimSpace(id)]
	return tpl, ok
}

// ValidateAnalysis checks a strategy's technical_analysis document:
// every top-level key must name a known indicator and its parameters
// must satisfy that indicator's schema.
func (r *SchemaRegistry) ValidateAnalysis(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &types.ValidationError{Field: "technical_analysis", Reason: "must be a JSON object"}
	}
	for name, params := range doc {
		tpl, ok := r.Template(name)
		if !ok {
			return &types.ValidationError{
				Field:  "technical_analysis",
				Reason: fmt.Sprintf("unknown indicator %q", name),
			}
		}
		if err := tpl.Validate(params); err != nil {
			return &types.ValidationError{
				Field:  "technical_analysis." + name,
				Reason: err.Error(),
			}
		}
	}
	return nil
}

// Validate checks params against the indicator's compiled schema.
func (t IndicatorTemplate) Validate(params any) error {
	if t.schemaCompiled == nil {
		return nil
	}
	return t.schemaCompiled.Validate(sanitizeParams(params))
}

func (r *SchemaRegistry) reload() error {
	cfg, err := readSchemaFile(r.path)
	if err != nil {
		return err
	}
	templates := make(map[string]IndicatorTemplate)
	for name, tpl := range cfg.Indicators {
		norm := normalizeIndicatorTemplate(name, tpl)
		templates[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = SchemaSnapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("Indicator schema registry loaded %d templates from %s", len(templates), filepath.Base(r.path))
	return nil
}

func normalizeIndicatorTemplate(name string, tpl IndicatorTemplate) IndicatorTemplate {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	tpl.Description = strings.TrimSpace(tpl.Description)
	if len(tpl.Schema) > 0 {
		if compiled, err := compileSchema(tpl.Schema); err != nil {
			logger.Errorf("indicator schema compile failed id=%s: %v", tpl.ID, err)
		} else {
			tpl.schemaCompiled = compiled
		}
	}
	return tpl
}

func cloneSchemaSnapshot(src SchemaSnapshot) SchemaSnapshot {
	dst := SchemaSnapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]IndicatorTemplate, len(src.Templates)),
	}
	for id, tpl := range src.Templates {
		dst.Templates[id] = tpl
	}
	return dst
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readSchemaFile(path string) (schemaFileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return schemaFileConfig{}, fmt.Errorf("read indicator schema config failed: %w", err)
	}
	var cfg schemaFileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return schemaFileConfig{}, fmt.Errorf("parse indicator schema config failed: %w", err)
	}
	return cfg, nil
}

// sanitizeParams converts numeric strings to float64 so clients that
// send "20" instead of 20 still validate.
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
