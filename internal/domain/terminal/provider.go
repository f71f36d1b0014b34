package terminal

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
)

// ShellProviderID identifies the plain shell provider
const ShellProviderID = "shell"

// PackageRunner is the executable that downloads its target on demand
const PackageRunner = "npx"

//go:embed providers.yaml
var builtinProviders []byte

// Model is a selectable model of a provider
type Model struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// InstallCommand holds the per-platform one-time install command
type InstallCommand struct {
	Windows string `yaml:"windows" json:"windows"`
	Unix    string `yaml:"unix" json:"unix"`
}

// For returns the command for platform, or "" when there is none
func (c *InstallCommand) For(platform Platform) string {
	if c == nil {
		return ""
	}
	if platform == PlatformWindows {
		return c.Windows
	}
	return c.Unix
}

// ProviderDescriptor describes how to launch one provider's CLI.
// Descriptors handed out by a Registry are copies; mutating them has no
// effect on the registry.
type ProviderDescriptor struct {
	ID         string          `yaml:"id" json:"id"`
	Name       string          `yaml:"name" json:"name"`
	Executable string          `yaml:"executable" json:"executable"`
	BaseArgs   []string        `yaml:"args,omitempty" json:"args"`
	EnvKey     string          `yaml:"env_key,omitempty" json:"env_key"`
	ModelFlag  string          `yaml:"model_flag,omitempty" json:"model_flag,omitempty"`
	Install    *InstallCommand `yaml:"install,omitempty" json:"install,omitempty"`
	Models     []Model         `yaml:"models" json:"models"`
}

// IsShell reports whether the descriptor launches the plain shell
func (p ProviderDescriptor) IsShell() bool {
	return p.ID == ShellProviderID || isDefaultShell(p.Executable)
}

// DefaultModel returns the first listed model id, or "default"
func (p ProviderDescriptor) DefaultModel() string {
	if len(p.Models) == 0 {
		return "default"
	}
	return p.Models[0].ID
}

// HasModel reports whether modelID is listed for the provider
func (p ProviderDescriptor) HasModel(modelID string) bool {
	for _, m := range p.Models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// Args returns the launch arguments for modelID
func (p ProviderDescriptor) Args(modelID string) []string {
	args := append([]string(nil), p.BaseArgs...)
	if p.ModelFlag != "" && modelID != "" && modelID != "default" {
		args = append(args, p.ModelFlag, modelID)
	}
	return args
}

func (p ProviderDescriptor) clone() ProviderDescriptor {
	c := p
	c.BaseArgs = append([]string(nil), p.BaseArgs...)
	c.Models = append([]Model(nil), p.Models...)
	if p.Install != nil {
		install := *p.Install
		c.Install = &install
	}
	return c
}

func (p ProviderDescriptor) validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider without id")
	}
	if p.Executable == "" {
		return fmt.Errorf("provider %s: executable is required", p.ID)
	}
	return nil
}

// Registry is the read-only provider lookup table
type Registry struct {
	order     []string
	providers map[string]ProviderDescriptor
}

// NewRegistry builds a registry from a YAML provider list
func NewRegistry(doc []byte) (*Registry, error) {
	r := &Registry{providers: make(map[string]ProviderDescriptor)}
	if err := r.merge(doc); err != nil {
		return nil, err
	}
	if _, ok := r.providers[ShellProviderID]; !ok {
		return nil, fmt.Errorf("provider table has no %q entry", ShellProviderID)
	}
	return r, nil
}

// LoadRegistry builds the built-in registry, then applies the override file
// at path when path is not empty.
func LoadRegistry(path string) (*Registry, error) {
	r, err := NewRegistry(builtinProviders)
	if err != nil {
		return nil, fmt.Errorf("builtin providers: %w", err)
	}
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("providers file %s: %w", path, err)
	}
	return r, nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the built-in provider table
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistry(builtinProviders)
		if err != nil {
			panic(fmt.Sprintf("terminal: builtin providers: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

func (r *Registry) merge(doc []byte) error {
	var list []ProviderDescriptor
	if err := yaml.Unmarshal(doc, &list); err != nil {
		return fmt.Errorf("parse providers: %w", err)
	}
	for _, p := range list {
		if err := p.validate(); err != nil {
			return err
		}
		if _, exists := r.providers[p.ID]; !exists {
			r.order = append(r.order, p.ID)
		}
		r.providers[p.ID] = p
	}
	return nil
}

// Get returns the descriptor for id
func (r *Registry) Get(id string) (ProviderDescriptor, bool) {
	p, ok := r.providers[id]
	if !ok {
		return ProviderDescriptor{}, false
	}
	return p.clone(), true
}

// Shell returns the shell descriptor
func (r *Registry) Shell() ProviderDescriptor {
	p, _ := r.Get(ShellProviderID)
	return p
}

// GetOrShell returns the descriptor for id, falling back to the shell
func (r *Registry) GetOrShell(id string) ProviderDescriptor {
	if p, ok := r.Get(id); ok {
		return p
	}
	return r.Shell()
}

// List returns all descriptors in table order
func (r *Registry) List() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].clone())
	}
	return out
}
