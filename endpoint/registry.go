package endpoint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/semlink/errors"
)

// Factory builds an endpoint registration from raw JSON configuration.
// The pid is the instance's persistent id as configured by the operator.
type Factory func(pid string, rawConfig json.RawMessage, deps Dependencies) (Registration, error)

// FactoryInfo holds a factory and the metadata used for discovery
type FactoryInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Schema      string  `json:"schema,omitempty"` // JSON schema for the factory config
	Factory     Factory `json:"-"`
}

// Registry manages endpoint factories by name. It is safe for concurrent use.
type Registry struct {
	factories map[string]*FactoryInfo
	schemas   map[string]*gojsonschema.Schema
	mu        sync.RWMutex
}

// NewRegistry creates an empty factory registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*FactoryInfo),
		schemas:   make(map[string]*gojsonschema.Schema),
	}
}

// RegisterFactory adds a factory. The schema, when present, is compiled once here.
func (r *Registry) RegisterFactory(info FactoryInfo) error {
	if info.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory name validation")
	}
	if info.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory function validation")
	}

	var compiled *gojsonschema.Schema
	if info.Schema != "" {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(info.Schema))
		if err != nil {
			return errors.WrapInvalid(err, "Registry", "RegisterFactory", "schema compilation for "+info.Name)
		}
		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("factory '%s' is already registered", info.Name),
			"Registry", "RegisterFactory", "duplicate factory check")
	}

	r.factories[info.Name] = &info
	if compiled != nil {
		r.schemas[info.Name] = compiled
	}
	return nil
}

// Create validates rawConfig against the factory schema and runs the factory
func (r *Registry) Create(pid, factory string, rawConfig json.RawMessage, deps Dependencies) (Registration, error) {
	if pid == "" {
		return Registration{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Create", "pid validation")
	}

	r.mu.RLock()
	info, exists := r.factories[factory]
	schema := r.schemas[factory]
	r.mu.RUnlock()

	if !exists {
		return Registration{}, errors.WrapInvalid(
			fmt.Errorf("unknown endpoint factory '%s'", factory),
			"Registry", "Create", "factory lookup")
	}

	if len(rawConfig) == 0 {
		rawConfig = json.RawMessage("{}")
	}

	if schema != nil {
		if err := validateAgainst(schema, rawConfig); err != nil {
			return Registration{}, errors.WrapInvalid(err, "Registry", "Create",
				fmt.Sprintf("config validation for %s (%s)", pid, factory))
		}
	}

	reg, err := info.Factory(pid, rawConfig, deps)
	if err != nil {
		return Registration{}, errors.Wrap(err, "Registry", "Create", "factory execution for "+pid)
	}
	if reg.PID == "" {
		reg.PID = pid
	}
	if err := reg.Validate(); err != nil {
		return Registration{}, errors.Wrap(err, "Registry", "Create", "registration validation for "+pid)
	}
	return reg, nil
}

// Factory returns the metadata of a registered factory
func (r *Registry) Factory(name string) (FactoryInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.factories[name]
	if !ok {
		return FactoryInfo{}, false
	}
	return *info, true
}

// ListFactories returns the registered factory names in sorted order
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateAgainst(schema *gojsonschema.Schema, raw json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; "))
}
