package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensciencearchive/server/domain/hook"
	"github.com/opensciencearchive/server/domain/srn"
	"github.com/opensciencearchive/server/infrastructure/errors"
)

// ConventionConfig binds a convention SRN to the hooks enforcing it.
type ConventionConfig struct {
	SRN   string            `yaml:"srn"`
	Hooks []hook.Definition `yaml:"hooks"`
}

// NodeConfig is the declarative node file: which conventions this node
// serves and which sources feed it. The core iterates its sources and
// hooks; everything else about node administration is out of scope.
type NodeConfig struct {
	Conventions []ConventionConfig      `yaml:"conventions"`
	Sources     []hook.SourceDefinition `yaml:"sources"`
}

// LoadNode reads and validates the node YAML file.
func LoadNode(path string) (*NodeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Configuration(fmt.Sprintf("read node file %s: %v", path, err))
	}
	var node NodeConfig
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, errors.Configuration(fmt.Sprintf("parse node file %s: %v", path, err))
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return &node, nil
}

// Validate checks every convention SRN, hook, and source definition.
func (n *NodeConfig) Validate() error {
	hookNames := map[string]bool{}
	for _, conv := range n.Conventions {
		if _, err := srn.ParseKind(conv.SRN, srn.KindConvention); err != nil {
			return errors.Configuration(fmt.Sprintf("convention %q: %v", conv.SRN, err))
		}
		for _, def := range conv.Hooks {
			if err := def.Validate(); err != nil {
				return errors.Configuration(fmt.Sprintf("convention %q hook %q: %v", conv.SRN, def.Manifest.Name, err))
			}
			if hookNames[def.Manifest.Name] {
				return errors.Configuration(fmt.Sprintf("hook name declared twice: %s", def.Manifest.Name))
			}
			hookNames[def.Manifest.Name] = true
		}
	}

	sourceNames := map[string]bool{}
	for _, src := range n.Sources {
		if err := src.Validate(); err != nil {
			return errors.Configuration(fmt.Sprintf("source %q: %v", src.Name, err))
		}
		if sourceNames[src.Name] {
			return errors.Configuration(fmt.Sprintf("source name declared twice: %s", src.Name))
		}
		sourceNames[src.Name] = true
	}
	return nil
}

// HooksFor returns the hook definitions registered for a convention SRN.
func (n *NodeConfig) HooksFor(conventionSRN string) []hook.Definition {
	for _, conv := range n.Conventions {
		if conv.SRN == conventionSRN {
			return conv.Hooks
		}
	}
	return nil
}

// Source returns the source definition with the given name.
func (n *NodeConfig) Source(name string) (hook.SourceDefinition, bool) {
	for _, src := range n.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return hook.SourceDefinition{}, false
}

// AllHooks returns every hook definition declared across all conventions.
func (n *NodeConfig) AllHooks() []hook.Definition {
	var defs []hook.Definition
	for _, conv := range n.Conventions {
		defs = append(defs, conv.Hooks...)
	}
	return defs
}
