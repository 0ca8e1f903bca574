package plugin

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative plugin catalogue loaded at startup. It plays
// the role deployment-time registration plays in the surrounding system.
type Manifest struct {
	Plugins []ManifestEntry `yaml:"plugins"`
}

// ManifestEntry describes one plugin in the manifest.
type ManifestEntry struct {
	Name            string              `yaml:"name"`
	Kind            Kind                `yaml:"kind"`
	Description     string              `yaml:"description"`
	EntryPoint      string              `yaml:"entrypoint"`
	Disabled        bool                `yaml:"disabled"`
	DisabledForOrgs []int64             `yaml:"disabled_for_orgs"`
	Queue           string              `yaml:"queue"`
	SoftTimeLimit   int                 `yaml:"soft_time_limit"`
	Parameters      []ManifestParameter `yaml:"parameters"`
}

// ManifestParameter describes one declared parameter. Default, when set,
// is seeded into the parameter store as the system-default value.
type ManifestParameter struct {
	Name        string    `yaml:"name"`
	Type        ParamType `yaml:"type"`
	Description string    `yaml:"description"`
	Required    bool      `yaml:"required"`
	IsSecret    bool      `yaml:"is_secret"`
	Default     any       `yaml:"default"`
}

// LoadManifest reads a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal plugin manifest: %w", err)
	}
	return &manifest, nil
}

// Definition converts a manifest entry into a Definition. Parameter names
// are deduplicated; a duplicate is an authoring error.
func (e ManifestEntry) Definition() (*Definition, error) {
	if e.Name == "" {
		return nil, errors.New("plugin name cannot be empty")
	}
	if !IsValidKind(e.Kind) {
		return nil, fmt.Errorf("plugin %s has unknown kind %q", e.Name, e.Kind)
	}
	def := &Definition{
		Name:          e.Name,
		Kind:          e.Kind,
		Description:   e.Description,
		EntryPoint:    e.EntryPoint,
		Disabled:      e.Disabled,
		Queue:         e.Queue,
		SoftTimeLimit: e.SoftTimeLimit,
	}
	if len(e.DisabledForOrgs) > 0 {
		def.DisabledForOrgs = make(map[int64]struct{}, len(e.DisabledForOrgs))
		for _, org := range e.DisabledForOrgs {
			def.DisabledForOrgs[org] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(e.Parameters))
	for _, p := range e.Parameters {
		if p.Name == "" {
			return nil, fmt.Errorf("plugin %s declares a parameter without a name", e.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("plugin %s declares parameter %s twice", e.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		paramType := p.Type
		if paramType == "" {
			paramType = TypeString
		}
		if !IsValidParamType(paramType) {
			return nil, fmt.Errorf("plugin %s parameter %s has unknown type %q", e.Name, p.Name, p.Type)
		}
		def.Parameters = append(def.Parameters, Parameter{
			Name:        p.Name,
			Type:        paramType,
			Description: p.Description,
			Required:    p.Required,
			IsSecret:    p.IsSecret,
			Plugin:      e.Name,
		})
	}
	return def, nil
}
