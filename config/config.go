// Package config loads YAML data-source configuration: provider selection,
// statement policies, sequencer strategy, and mapping overrides. A Watcher
// re-reads the file on change; callers decide when to apply the result, so
// caches are never rebuilt mid-call.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xanotech/xrepo/catalog"
	"github.com/xanotech/xrepo/dialect"
	sqld "github.com/xanotech/xrepo/dialect/sql"
)

// Sequencer strategy names.
const (
	SequencerNone   = "none"
	SequencerLocal  = "local"
	SequencerBacked = "backed"
)

// Unresolvable-column policy names.
const (
	PolicyNameAlwaysFalse = "alwaysFalse"
	PolicyNameDrop        = "drop"
)

// Config is one data source's configuration.
type Config struct {
	// Provider is the backend dialect identifier: mysql, postgres, sqlite,
	// sqlserver or oracle. It selects the catalog introspection strategy
	// explicitly; error text is never pattern-matched to pick one.
	Provider string `yaml:"provider"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
	// LikeEquality rewrites every EqualTo criterion to Like (and NotEqualTo
	// to NotLike) before building statements, for backends that need
	// case-insensitive comparison emulation.
	LikeEquality bool `yaml:"likeEquality"`
	// UnresolvableColumns picks how criteria naming no known column render:
	// alwaysFalse (default) or drop.
	UnresolvableColumns string `yaml:"unresolvableColumns"`
	// SlowQueryThreshold is the duration past which a statement is logged as
	// slow. Zero disables the slow log.
	SlowQueryThreshold Duration `yaml:"slowQueryThreshold"`
	// Sequencer selects the identity allocation strategy.
	Sequencer SequencerConfig `yaml:"sequencer"`
	// Mappings declares per-type table and column overrides.
	Mappings []MappingConfig `yaml:"mappings"`
}

// Duration decodes Go duration strings such as "250ms" from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SequencerConfig selects and parameterizes the identity sequencer.
type SequencerConfig struct {
	// Strategy is none, local or backed. Empty means none.
	Strategy string `yaml:"strategy"`
	// Table overrides the backing table name for the backed strategy.
	Table string `yaml:"table"`
}

// MappingConfig is one type's mapping overrides.
type MappingConfig struct {
	Type    string            `yaml:"type"`
	Table   string            `yaml:"table"`
	Columns map[string]string `yaml:"columns"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "", dialect.MySQL, dialect.SQLite, dialect.Postgres, dialect.SQLServer, dialect.Oracle:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	switch c.UnresolvableColumns {
	case "", PolicyNameAlwaysFalse, PolicyNameDrop:
	default:
		return fmt.Errorf("unknown unresolvableColumns policy %q", c.UnresolvableColumns)
	}
	switch c.Sequencer.Strategy {
	case "", SequencerNone, SequencerLocal, SequencerBacked:
	default:
		return fmt.Errorf("unknown sequencer strategy %q", c.Sequencer.Strategy)
	}
	seen := make(map[string]bool)
	for _, m := range c.Mappings {
		if m.Type == "" {
			return fmt.Errorf("mapping override without a type name")
		}
		if seen[m.Type] {
			return fmt.Errorf("duplicate mapping override for type %q", m.Type)
		}
		seen[m.Type] = true
	}
	return nil
}

// Policy returns the configured unresolvable-column policy.
func (c *Config) Policy() sqld.UnresolvablePolicy {
	if c.UnresolvableColumns == PolicyNameDrop {
		return sqld.PolicyDrop
	}
	return sqld.PolicyAlwaysFalse
}

// CatalogProvider returns the introspection strategy for the configured
// provider identifier.
func (c *Config) CatalogProvider() catalog.Provider {
	return catalog.ProviderFor(c.Provider)
}

// Mapping returns the override block for the named type, if declared.
func (c *Config) Mapping(typeName string) (MappingConfig, bool) {
	for _, m := range c.Mappings {
		if m.Type == typeName {
			return m, true
		}
	}
	return MappingConfig{}, false
}
