package toolsync

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver kinds accepted in configuration.
const (
	ResolverKindField      = "field"
	ResolverKindExpression = "expression"
	ResolverKindNone       = "none"
)

// Config is the declarative form of the scheduler and resolver setup.
//
//	resolver:
//	  kind: expression
//	  engine: cel
//	  expression: 'X == "" ? "" : "scatter-" + slug(X)'
//	  sticky: true
//	scheduler:
//	  max_passes: 5
type Config struct {
	Resolver  ResolverConfig  `yaml:"resolver"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ResolverConfig selects and parameterises the identity resolver.
type ResolverConfig struct {
	Kind       string         `yaml:"kind,omitempty"`
	Prefix     string         `yaml:"prefix,omitempty"`
	Separator  string         `yaml:"separator,omitempty"`
	Engine     string         `yaml:"engine,omitempty"`
	Expression string         `yaml:"expression,omitempty"`
	Sticky     bool           `yaml:"sticky,omitempty"`
	Args       map[string]any `yaml:"args,omitempty"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
}

// SchedulerConfig bounds digests.
type SchedulerConfig struct {
	MaxPasses int `yaml:"max_passes,omitempty"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return Config{}, fmt.Errorf("toolsync: config path must not be empty")
	}
	// #nosec G304 -- path supplied by the embedding application.
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, fmt.Errorf("toolsync: reading config %q: %w", clean, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("toolsync: parsing config %q: %w", clean, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML configuration and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot produce a resolver.
func (c Config) Validate() error {
	switch c.resolverKind() {
	case ResolverKindField, ResolverKindNone:
	case ResolverKindExpression:
		if strings.TrimSpace(c.Resolver.Expression) == "" {
			return fmt.Errorf("toolsync: resolver.expression is required for kind %q", ResolverKindExpression)
		}
	default:
		return fmt.Errorf("toolsync: unknown resolver kind %q", c.Resolver.Kind)
	}
	if c.Scheduler.MaxPasses < 0 {
		return fmt.Errorf("toolsync: scheduler.max_passes must not be negative")
	}
	return nil
}

// NewResolver builds the configured identity resolver. Expression resolvers
// are compiled here, so syntax errors surface before any digest runs.
func (c Config) NewResolver(opts ...ExpressionOption) (IdentityResolver, error) {
	var resolver IdentityResolver
	switch c.resolverKind() {
	case ResolverKindNone:
		return nil, nil
	case ResolverKindField:
		prefix := c.Resolver.Prefix
		if prefix == "" {
			prefix = DefaultToolPrefix
		}
		resolver = FieldResolver{Prefix: prefix, Separator: c.Resolver.Separator}
	case ResolverKindExpression:
		exprOpts := []ExpressionOption{
			WithEngine(c.Resolver.Engine),
			WithArgs(c.Resolver.Args),
			WithMetadata(c.Resolver.Metadata),
		}
		expression, err := NewExpressionResolver(c.Resolver.Expression, append(exprOpts, opts...)...)
		if err != nil {
			return nil, err
		}
		resolver = expression
	default:
		return nil, fmt.Errorf("toolsync: unknown resolver kind %q", c.Resolver.Kind)
	}
	if c.Resolver.Sticky {
		resolver = StickyResolver{Inner: resolver}
	}
	return resolver, nil
}

// Options translates the configuration into scheduler options.
func (c Config) Options(opts ...ExpressionOption) ([]Option, error) {
	resolver, err := c.NewResolver(opts...)
	if err != nil {
		return nil, err
	}
	out := []Option{WithResolver(resolver)}
	if c.Scheduler.MaxPasses > 0 {
		out = append(out, WithMaxPasses(c.Scheduler.MaxPasses))
	}
	return out, nil
}

func (c Config) resolverKind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Resolver.Kind))
	if kind == "" {
		return ResolverKindField
	}
	return kind
}
