package tier

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type fileTier struct {
	Definition `yaml:",inline"`
	Buckets    []any `yaml:"buckets"`
}

type registryFile struct {
	Tiers []fileTier `yaml:"tiers"`
}

// Parse reads a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tier registry: %w", err)
	}
	defs := make([]Definition, 0, len(f.Tiers))
	for _, ft := range f.Tiers {
		buckets, err := ParseBuckets(ft.Buckets)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", ft.ID, err)
		}
		def := ft.Definition
		def.Buckets = buckets
		defs = append(defs, def)
	}
	return NewRegistry(defs)
}

// Load reads a registry from path, or the built-in registry when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier registry: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in utla / ltla / msoa registry.
func Default() *Registry {
	r, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// Marshal writes the registry back out in its YAML file form.
func (r *Registry) Marshal() ([]byte, error) {
	f := registryFile{Tiers: make([]fileTier, len(r.tiers))}
	for i, t := range r.tiers {
		f.Tiers[i] = fileTier{Definition: t, Buckets: t.Step()}
	}
	return yaml.Marshal(f)
}
