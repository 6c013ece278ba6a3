// Package srn implements the Structured Resource Name, the canonical
// identifier for every aggregate in the platform.
//
// Grammar: urn:osa:<domain>:<kind>:<local>[@<version>]
//
// Record SRNs carry an integer generation; schema, convention, and ontology
// SRNs carry a semver; deposition, validation-run, and event SRNs are
// unversioned.
package srn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Kind identifies the aggregate type an SRN refers to.
type Kind string

const (
	KindDeposition    Kind = "dep"
	KindRecord        Kind = "rec"
	KindConvention    Kind = "conv"
	KindSchema        Kind = "schema"
	KindOntology      Kind = "onto"
	KindValidationRun Kind = "val"
	KindEvent         Kind = "evt"
)

var kinds = map[Kind]bool{
	KindDeposition:    true,
	KindRecord:        true,
	KindConvention:    true,
	KindSchema:        true,
	KindOntology:      true,
	KindValidationRun: true,
	KindEvent:         true,
}

var srnRe = regexp.MustCompile(
	`^urn:osa:` +
		`(?P<domain>[a-z0-9][a-z0-9.\-]*):` +
		`(?P<kind>dep|rec|conv|schema|onto|val|evt):` +
		`(?P<local>[a-z0-9][a-z0-9\-]*)` +
		`(?:@(?P<ver>[0-9]+|[0-9]+\.[0-9]+\.[0-9]+(?:-[0-9a-z.\-]+)?))?$`)

var semverRe = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(?:-[0-9a-z.\-]+)?$`)

// SRN is a parsed Structured Resource Name. The zero value is not valid;
// construct via Parse, ParseKind, or the New* constructors.
type SRN struct {
	Domain  string
	Kind    Kind
	Local   string
	Version string // "" when unversioned
}

// String renders the SRN in its canonical form.
func (s SRN) String() string {
	base := fmt.Sprintf("urn:osa:%s:%s:%s", s.Domain, s.Kind, s.Local)
	if s.Version != "" {
		return base + "@" + s.Version
	}
	return base
}

// IsZero reports whether the SRN is the zero value.
func (s SRN) IsZero() bool {
	return s == SRN{}
}

// Generation returns the integer generation of a record SRN.
func (s SRN) Generation() (int, error) {
	if s.Kind != KindRecord {
		return 0, errors.Validation(fmt.Sprintf("SRN kind %s has no generation", s.Kind))
	}
	if s.Version == "" {
		return 0, errors.Validation("record SRN has no generation")
	}
	return strconv.Atoi(s.Version)
}

// MarshalText implements encoding.TextMarshaler.
func (s SRN) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SRN) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse validates a string as an SRN and returns the parsed value.
// Parsing is lossless: Parse(s.String()) == s for every valid SRN.
func Parse(v string) (SRN, error) {
	if v != strings.ToLower(v) {
		return SRN{}, errors.Validation("SRN must be lowercase")
	}
	for _, r := range v {
		if r > 127 {
			return SRN{}, errors.Validation("SRN must be ASCII")
		}
	}
	if strings.ContainsAny(v, " \t\n\r") {
		return SRN{}, errors.Validation("SRN must not contain whitespace")
	}

	m := srnRe.FindStringSubmatch(v)
	if m == nil {
		return SRN{}, errors.Validation(fmt.Sprintf("invalid SRN format: %q", v))
	}

	s := SRN{
		Domain:  m[srnRe.SubexpIndex("domain")],
		Kind:    Kind(m[srnRe.SubexpIndex("kind")]),
		Local:   m[srnRe.SubexpIndex("local")],
		Version: m[srnRe.SubexpIndex("ver")],
	}
	if err := validateVersion(s.Kind, s.Version); err != nil {
		return SRN{}, err
	}
	return s, nil
}

// ParseKind parses an SRN and enforces that its kind matches the expected one.
func ParseKind(v string, kind Kind) (SRN, error) {
	s, err := Parse(v)
	if err != nil {
		return SRN{}, err
	}
	if s.Kind != kind {
		return SRN{}, errors.Validation(fmt.Sprintf("expected SRN kind %s, got %s", kind, s.Kind))
	}
	return s, nil
}

func validateVersion(kind Kind, version string) error {
	switch kind {
	case KindRecord:
		if version != "" {
			if _, err := strconv.Atoi(version); err != nil {
				return errors.Validation(fmt.Sprintf("record SRN generation must be an integer, got %q", version))
			}
		}
	case KindSchema, KindConvention, KindOntology:
		if version != "" && !semverRe.MatchString(version) {
			return errors.Validation(fmt.Sprintf("%s SRN version must be semver, got %q", kind, version))
		}
	case KindDeposition, KindValidationRun, KindEvent:
		if version != "" {
			return errors.Validation(fmt.Sprintf("%s SRN must be unversioned", kind))
		}
	}
	return nil
}

func newSRN(domain string, kind Kind, local, version string) (SRN, error) {
	s := SRN{Domain: domain, Kind: kind, Local: local, Version: version}
	// Round-trip through Parse so constructors share the grammar.
	return Parse(s.String())
}

// NewDepositionSRN builds an unversioned deposition SRN.
func NewDepositionSRN(domain, local string) (SRN, error) {
	return newSRN(domain, KindDeposition, local, "")
}

// NewRecordSRN builds a record SRN at the given generation.
func NewRecordSRN(domain, local string, generation int) (SRN, error) {
	return newSRN(domain, KindRecord, local, strconv.Itoa(generation))
}

// NewValidationRunSRN builds an unversioned validation-run SRN.
func NewValidationRunSRN(domain, local string) (SRN, error) {
	return newSRN(domain, KindValidationRun, local, "")
}

// NewEventSRN builds an unversioned event SRN.
func NewEventSRN(domain, local string) (SRN, error) {
	return newSRN(domain, KindEvent, local, "")
}

// NewConventionSRN builds a convention SRN at the given semver.
func NewConventionSRN(domain, local, version string) (SRN, error) {
	return newSRN(domain, KindConvention, local, version)
}

// ValidKind reports whether the given string names a known SRN kind.
func ValidKind(v string) bool {
	return kinds[Kind(v)]
}
