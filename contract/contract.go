// Package contract loads the versioned policy contract: the single
// allowed database, its declared schemas and objects, and the security
// limits every query and deployment is checked against. The contract
// is loaded once at startup and treated as immutable for the process
// lifetime; a new process picks up contract changes.
package contract

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema declares one schema of the allowed database and the tables
// and views callers may address inside it. Order matters: source
// resolution takes the first match across declared schemas.
type Schema struct {
	Name   string   `yaml:"name"`
	Tables []string `yaml:"tables"`
	Views  []string `yaml:"views"`
}

// Security holds the contract's enforcement limits.
type Security struct {
	MaxRowsPerQuery     int      `yaml:"max_rows_per_query"`
	QueryTimeoutSeconds int      `yaml:"query_timeout_seconds"`
	ForbiddenOperations []string `yaml:"forbidden_operations"`
	AllowedRoles        []string `yaml:"allowed_roles"`
}

// Contract is the versioned policy contract.
type Contract struct {
	Version string `yaml:"version"`
	// Database is the single database three-part references may use.
	Database string `yaml:"database"`
	// FallbackSchema qualifies bare object names that match no
	// declared schema. Resolution through the fallback is reported to
	// the caller as a warning, never a silent success.
	FallbackSchema string   `yaml:"fallback_schema"`
	Schemas        []Schema `yaml:"schemas"`
	Security       Security `yaml:"security"`
}

// SourceInfo describes one addressable source for discovery endpoints.
type SourceInfo struct {
	Name           string `json:"name"`
	Schema         string `json:"schema"`
	Type           string `json:"type"` // table or view
	FullyQualified string `json:"full_name"`
}

// Default returns the built-in contract used when no contract file is
// configured.
func Default() *Contract {
	return &Contract{
		Version:        "2.0.0",
		Database:       "ANALYTICS",
		FallbackSchema: "ACTIVITY",
		Schemas: []Schema{
			{
				Name:   "ACTIVITY",
				Tables: []string{"EVENTS"},
			},
			{
				Name:   "REPORTING",
				Tables: []string{"ARTIFACTS"},
				Views:  []string{"VW_ACTIVITY_SUMMARY", "VW_ACTIVITY_COUNTS_24H"},
			},
		},
		Security: Security{
			MaxRowsPerQuery:     10000,
			QueryTimeoutSeconds: 300,
			ForbiddenOperations: []string{
				"CREATE", "DROP", "ALTER", "INSERT", "UPDATE", "DELETE",
				"TRUNCATE", "MERGE", "GRANT", "REVOKE", "CALL",
			},
			AllowedRoles: []string{"GATEWAY_EXECUTOR_ROLE"},
		},
	}
}

// Load reads and validates a contract from a YAML file.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file: %w", err)
	}

	c := &Contract{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse contract file: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("contract validation failed: %w", err)
	}
	return c, nil
}

// Validate checks that the contract is internally consistent.
func (c *Contract) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("contract database is required")
	}
	if len(c.Schemas) == 0 {
		return fmt.Errorf("contract must declare at least one schema")
	}
	for _, s := range c.Schemas {
		if s.Name == "" {
			return fmt.Errorf("contract schema name is required")
		}
	}
	if c.Security.MaxRowsPerQuery <= 0 {
		return fmt.Errorf("max_rows_per_query must be positive")
	}
	if c.Security.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("query_timeout_seconds must be positive")
	}
	if len(c.Security.ForbiddenOperations) == 0 {
		return fmt.Errorf("forbidden_operations must not be empty")
	}
	return nil
}

// QueryTimeout returns the statement timeout as a duration.
func (c *Contract) QueryTimeout() time.Duration {
	return time.Duration(c.Security.QueryTimeoutSeconds) * time.Second
}

// Resolution is the outcome of resolving a plan source to a fully
// qualified object name.
type Resolution struct {
	FullyQualified string
	Schema         string
	Object         string
	// Fallback is true when the object matched no declared schema and
	// was qualified through the fallback schema. Callers must surface
	// this as a compile warning.
	Fallback bool
}

// ResolveSource maps a one-, two-, or three-part source name to
// exactly one fully qualified object through the static schema map.
// Unresolvable sources are an error, never silently defaulted past
// the fallback rule.
func (c *Contract) ResolveSource(source string) (*Resolution, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	parts := strings.Split(source, ".")
	switch len(parts) {
	case 1:
		object := parts[0]
		for _, s := range c.Schemas {
			if s.contains(object) {
				return c.resolution(s.Name, object, false), nil
			}
		}
		if c.FallbackSchema != "" {
			return c.resolution(c.FallbackSchema, object, true), nil
		}
		return nil, fmt.Errorf("unknown source: %s", source)
	case 2:
		schema, object := parts[0], parts[1]
		for _, s := range c.Schemas {
			if strings.EqualFold(s.Name, schema) && s.contains(object) {
				return c.resolution(s.Name, object, false), nil
			}
		}
		return nil, fmt.Errorf("unknown source: %s", source)
	case 3:
		if !strings.EqualFold(parts[0], c.Database) {
			return nil, fmt.Errorf("database %s is not allowed, only %s", parts[0], c.Database)
		}
		return c.ResolveSource(parts[1] + "." + parts[2])
	default:
		return nil, fmt.Errorf("invalid source name: %s", source)
	}
}

// Sources lists every addressable table and view declared by the
// contract, in declaration order.
func (c *Contract) Sources() []SourceInfo {
	var out []SourceInfo
	for _, s := range c.Schemas {
		for _, t := range s.Tables {
			out = append(out, SourceInfo{
				Name:           t,
				Schema:         s.Name,
				Type:           "table",
				FullyQualified: fmt.Sprintf("%s.%s.%s", c.Database, s.Name, t),
			})
		}
		for _, v := range s.Views {
			out = append(out, SourceInfo{
				Name:           v,
				Schema:         s.Name,
				Type:           "view",
				FullyQualified: fmt.Sprintf("%s.%s.%s", c.Database, s.Name, v),
			})
		}
	}
	return out
}

func (c *Contract) resolution(schema, object string, fallback bool) *Resolution {
	return &Resolution{
		FullyQualified: fmt.Sprintf("%s.%s.%s", c.Database, schema, object),
		Schema:         schema,
		Object:         object,
		Fallback:       fallback,
	}
}

func (s Schema) contains(object string) bool {
	for _, t := range s.Tables {
		if strings.EqualFold(t, object) {
			return true
		}
	}
	for _, v := range s.Views {
		if strings.EqualFold(v, object) {
			return true
		}
	}
	return false
}
