// Package hook holds the content-addressed hook and source definitions
// shared across the deposition, validation, and feature domains.
package hook

import (
	"fmt"
	"regexp"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// identifierRe bounds every name that may end up in SQL DDL. This is the
// SQL-injection boundary: nothing failing this regex reaches a query.
var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateIdentifier rejects any string that is not a safe lowercase
// identifier (leading letter, alnum/underscore, at most 63 chars).
func ValidateIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return errors.Validation(fmt.Sprintf(
			"invalid identifier %q: must be lowercase alphanumeric/underscore, starting with a letter", name))
	}
	return nil
}

// JSONType enumerates the declared type of a feature column.
type JSONType string

const (
	TypeString  JSONType = "string"
	TypeNumber  JSONType = "number"
	TypeInteger JSONType = "integer"
	TypeBoolean JSONType = "boolean"
	TypeArray   JSONType = "array"
	TypeObject  JSONType = "object"
)

var jsonTypes = map[JSONType]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
	TypeArray:   true,
	TypeObject:  true,
}

// ColumnDef is the definition of a single column in a feature table.
type ColumnDef struct {
	Name     string   `json:"name" yaml:"name"`
	JSONType JSONType `json:"json_type" yaml:"json_type"`
	Format   string   `json:"format,omitempty" yaml:"format,omitempty"`
	Required bool     `json:"required" yaml:"required"`
}

// Validate checks the column name and declared type.
func (c ColumnDef) Validate() error {
	if err := ValidateIdentifier(c.Name); err != nil {
		return err
	}
	if !jsonTypes[c.JSONType] {
		return errors.ValidationField(c.Name, fmt.Sprintf("unknown json_type %q", c.JSONType))
	}
	return nil
}

// FeatureSchema is the ordered set of columns a hook produces.
type FeatureSchema struct {
	Columns []ColumnDef `json:"columns" yaml:"columns"`
}

// Validate checks every column and rejects duplicates.
func (s FeatureSchema) Validate() error {
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if err := col.Validate(); err != nil {
			return err
		}
		if seen[col.Name] {
			return errors.Validation(fmt.Sprintf("duplicate feature column %q", col.Name))
		}
		seen[col.Name] = true
	}
	return nil
}

// Cardinality declares how many records a hook validates per run.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Manifest describes what a hook produces.
type Manifest struct {
	Name          string        `json:"name" yaml:"name"`
	RecordSchema  string        `json:"record_schema" yaml:"record_schema"`
	Cardinality   Cardinality   `json:"cardinality" yaml:"cardinality"`
	FeatureSchema FeatureSchema `json:"feature_schema" yaml:"feature_schema"`
}

// Validate checks the manifest name, cardinality, and feature schema.
func (m Manifest) Validate() error {
	if err := ValidateIdentifier(m.Name); err != nil {
		return err
	}
	if m.Cardinality != CardinalityOne && m.Cardinality != CardinalityMany {
		return errors.ValidationField("cardinality", fmt.Sprintf("must be one or many, got %q", m.Cardinality))
	}
	return m.FeatureSchema.Validate()
}

// Limits bounds hook container execution.
type Limits struct {
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	Memory         string `json:"memory" yaml:"memory"`
	CPU            string `json:"cpu" yaml:"cpu"`
}

// DefaultLimits returns the hook execution defaults.
func DefaultLimits() Limits {
	return Limits{TimeoutSeconds: 300, Memory: "2g", CPU: "2.0"}
}

// Definition is the complete, immutable specification for one hook:
// image reference, manifest, limits, and optional per-hook config.
type Definition struct {
	Image    string                 `json:"image" yaml:"image"`
	Digest   string                 `json:"digest" yaml:"digest"`
	Config   map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Limits   Limits                 `json:"limits" yaml:"limits"`
	Manifest Manifest               `json:"manifest" yaml:"manifest"`
}

// Validate checks the image reference and manifest.
func (d Definition) Validate() error {
	if d.Image == "" {
		return errors.ValidationField("image", "hook image is required")
	}
	if d.Digest == "" {
		return errors.ValidationField("digest", "hook digest is required")
	}
	return d.Manifest.Validate()
}
