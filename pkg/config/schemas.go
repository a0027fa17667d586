package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Built-in schema names.
const (
	SchemaConfig = "config"
)

// SchemaRegistry manages JSON schemas for validation.
type SchemaRegistry struct {
	schemas map[string]*jsonschema.Schema
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		schemas: make(map[string]*jsonschema.Schema),
	}
	if err := sr.RegisterSchema(SchemaConfig, builtinConfigSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles a JSON schema and stores it under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = compiled
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (*jsonschema.Schema, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	s, ok := sr.schemas[name]
	return s, ok
}

// Validate checks a decoded JSON document against a named schema.
func (sr *SchemaRegistry) Validate(name string, doc interface{}) error {
	s, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "depletion": {
      "type": "object",
      "properties": {
        "burn_cells": {"type": ["array", "null"], "items": {"type": "integer", "minimum": 1}},
        "step_time_intervals": {"$ref": "#/definitions/rates"},
        "step_powers": {"$ref": "#/definitions/rates"},
        "step_fluxes": {"$ref": "#/definitions/rates"},
        "power": {"type": "number", "minimum": 0},
        "flux": {"type": "number", "minimum": 0},
        "time": {"type": "number", "minimum": 0},
        "terminal_decay_time": {"type": "number", "minimum": 0},
        "minimum_burnup_step": {"type": "number", "exclusiveMinimum": 0},
        "maximum_burnup_step": {"type": "number", "exclusiveMinimum": 0},
        "minimum_fluence_step": {"type": "number", "exclusiveMinimum": 0},
        "maximum_fluence_step": {"type": "number", "exclusiveMinimum": 0},
        "mass_density_cutoff": {"type": "number", "minimum": 0},
        "isotope_cutoff": {"type": "number", "minimum": 0},
        "q_value_method": {"enum": ["mcnp", "monteburns2", "origen2", "mocup", "imocup", "origens"]},
        "include_decay_heat": {"type": "boolean"},
        "force_decay_transport": {"type": "boolean"},
        "max_feedback_iterations": {"type": "integer", "minimum": 1},
        "threads": {"type": "integer", "minimum": 1},
        "seed": {"type": "integer"}
      }
    },
    "libraries": {
      "type": "object",
      "properties": {
        "path_template": {"type": "string", "pattern": "%s"},
        "decay": {"type": "string", "minLength": 1},
        "photon": {"type": "string", "minLength": 1},
        "xs": {"type": "string", "minLength": 1}
      }
    },
    "transport": {"$ref": "#/definitions/solver"},
    "transmute": {"$ref": "#/definitions/solver"},
    "feedback": {
      "type": "object",
      "properties": {
        "script": {"type": "string"},
        "parameters": {"type": ["object", "null"]}
      }
    },
    "recycle": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "isotopics_norm": {"enum": ["1", "one", "2", "two", "inf", "infinite", "infinity"]},
        "isotopics_tolerance": {"type": "number", "exclusiveMinimum": 0},
        "keff_tolerance": {"type": "number", "exclusiveMinimum": 0},
        "max_cycles": {"type": "integer", "minimum": 1},
        "fuel_script": {"type": "string"},
        "fuel_parameters": {"type": ["object", "null"]}
      }
    },
    "checkpoint": {
      "type": "object",
      "properties": {"compress": {"type": "boolean"}}
    },
    "store": {
      "type": "object",
      "properties": {"path": {"type": "string"}}
    },
    "telemetry": {"type": "object"}
  },
  "definitions": {
    "rates": {"type": ["array", "null"], "items": {"type": "number", "minimum": 0}},
    "solver": {
      "type": "object",
      "properties": {
        "executable": {"type": "string"},
        "command": {"type": "string", "minLength": 1},
        "timeout": {"type": ["string", "integer"]},
        "env": {"type": ["object", "null"], "additionalProperties": {"type": "string"}},
        "xsdir": {"type": "string"},
        "source_file": {"type": "string"},
        "remote": {
          "type": "object",
          "properties": {
            "host": {"type": "string"},
            "port": {"type": "integer", "minimum": 0, "maximum": 65535},
            "user": {"type": "string"},
            "key_file": {"type": "string"},
            "key_passphrase": {"type": "string"},
            "password": {"type": "string"},
            "known_hosts": {"type": "string"},
            "insecure_ignore_host_key": {"type": "boolean"},
            "connect_timeout": {"type": ["string", "integer"]},
            "workdir": {"type": "string"},
            "executable": {"type": "string"},
            "xsdir": {"type": "string"}
          }
        }
      }
    }
  }
}`
