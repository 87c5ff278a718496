// Package config loads the host configuration file: tool server
// descriptors, workflow definitions, and the ambient knobs for the
// cache and logging.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/toolbus/pkg/domain"
)

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// HTTPConfig tunes the optional status endpoint.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root of the configuration file.
type Config struct {
	LogLevel  string                              `yaml:"log_level"`
	Cache     CacheConfig                         `yaml:"cache"`
	HTTP      HTTPConfig                          `yaml:"http"`
	Servers   map[string]*domain.ServerDescriptor `yaml:"servers"`
	Workflows map[string]*domain.Workflow         `yaml:"workflows"`
}

// DefaultPath is where the CLI looks when --config is not given.
const DefaultPath = "toolbus.yaml"

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Map keys carry the names; stamp them onto the records so the rest
	// of the code never deals with anonymous descriptors.
	for name, desc := range cfg.Servers {
		if desc == nil {
			cfg.Servers[name] = &domain.ServerDescriptor{Name: name}
			continue
		}
		desc.Name = name
	}
	for name, wf := range cfg.Workflows {
		if wf == nil {
			return nil, fmt.Errorf("workflow %q: empty definition", name)
		}
		wf.Name = name
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, desc := range c.Servers {
		switch desc.Type {
		case domain.LaunchEmbedded:
			// The embedded worker re-invokes this binary; a command here
			// is almost certainly a mistake.
			if desc.Command != "" {
				return fmt.Errorf("server %q: embedded servers must not set command", name)
			}
		case domain.LaunchExternal:
			if desc.Command == "" {
				return fmt.Errorf("server %q: external servers require a command", name)
			}
		case "":
			return fmt.Errorf("server %q: missing type (embedded or external)", name)
		default:
			return fmt.Errorf("server %q: unknown type %q", name, desc.Type)
		}
	}

	for name, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			return fmt.Errorf("workflow %q: no steps", name)
		}
		for i, step := range wf.Steps {
			if err := validateStep(step, false); err != nil {
				return fmt.Errorf("workflow %q step %d: %w", name, i+1, err)
			}
		}
	}
	return nil
}

func validateStep(s domain.Step, nested bool) error {
	if s.IsParallel() {
		if nested {
			return fmt.Errorf("parallel groups cannot nest")
		}
		if s.Executor != "" {
			return fmt.Errorf("a step is either an executor or a parallel group, not both")
		}
		for i, member := range s.Parallel {
			if err := validateStep(member, true); err != nil {
				return fmt.Errorf("parallel member %d: %w", i+1, err)
			}
		}
		return nil
	}
	if s.Executor == "" {
		return fmt.Errorf("missing executor")
	}
	return nil
}

// ServerDescriptors returns the server map in the by-value form the
// supervisor wants.
func (c *Config) ServerDescriptors() map[string]domain.ServerDescriptor {
	out := make(map[string]domain.ServerDescriptor, len(c.Servers))
	for name, desc := range c.Servers {
		out[name] = *desc
	}
	return out
}
