// Package fleet loads the desired-state manifest and reconciles every
// entry against the provider.
package fleet

import (
	"fmt"
	"os"

	"cloudherd/internal/config"
	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"

	"gopkg.in/yaml.v3"
)

// Manifest is the parsed fleet description: one desired-state spec per
// instance name.
type Manifest struct {
	Specs []reconcile.Spec
}

// ManifestRaw is the YAML form of the manifest.
type ManifestRaw struct {
	Instances []InstanceRaw `yaml:"instances"`
}

// InstanceRaw is a single raw manifest entry.
type InstanceRaw struct {
	Name          string                  `yaml:"name"`
	ImageID       string                  `yaml:"image_id,omitempty"`
	InstanceType  string                  `yaml:"instance_type,omitempty"`
	KeyName       string                  `yaml:"key_name,omitempty"`
	User          string                  `yaml:"user,omitempty"`
	UserData      string                  `yaml:"user_data,omitempty"`
	DesiredState  string                  `yaml:"desired_state"`
	SecurityGroup string                  `yaml:"security_group,omitempty"`
	ProbeURL      string                  `yaml:"probe_url,omitempty"`
	Rules         []provider.SecurityRule `yaml:"rules,omitempty"`
}

// LoadManifest reads and validates a fleet manifest, applying config
// defaults to fields the entry leaves unset.
func LoadManifest(path string, defaults config.DefaultsConfig) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var raw ManifestRaw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return raw.ToManifest(defaults)
}

// ToManifest converts the raw form into validated specs.
func (mr *ManifestRaw) ToManifest(defaults config.DefaultsConfig) (*Manifest, error) {
	if len(mr.Instances) == 0 {
		return nil, fmt.Errorf("manifest declares no instances")
	}

	m := &Manifest{Specs: make([]reconcile.Spec, 0, len(mr.Instances))}
	seen := make(map[string]bool, len(mr.Instances))

	for i, inst := range mr.Instances {
		if inst.Name == "" {
			return nil, fmt.Errorf("instance %d: name is required", i)
		}
		// Reconciliations for the same name must not run concurrently;
		// a unique-name manifest is how we guarantee that.
		if seen[inst.Name] {
			return nil, fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		seen[inst.Name] = true

		spec, err := inst.toSpec(defaults)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w", inst.Name, err)
		}
		m.Specs = append(m.Specs, spec)
	}

	return m, nil
}

func (inst InstanceRaw) toSpec(defaults config.DefaultsConfig) (reconcile.Spec, error) {
	spec := reconcile.Spec{
		InstanceSpec: provider.InstanceSpec{
			Name:         inst.Name,
			ImageID:      orDefault(inst.ImageID, defaults.ImageID),
			InstanceType: orDefault(inst.InstanceType, defaults.InstanceType),
			KeyName:      orDefault(inst.KeyName, defaults.KeyName),
			User:         orDefault(inst.User, defaults.User),
			UserData:     inst.UserData,
			Rules:        dedupeRules(inst.Rules),
			BoundaryName: inst.SecurityGroup,
		},
		Desired:  reconcile.PowerState(inst.DesiredState),
		ProbeURL: inst.ProbeURL,
	}

	if spec.Desired == "" {
		spec.Desired = reconcile.PowerRunning
	}
	if !spec.Desired.Valid() {
		return reconcile.Spec{}, fmt.Errorf("unknown desired_state %q", inst.DesiredState)
	}
	if spec.Desired == reconcile.PowerRunning && spec.ImageID == "" {
		return reconcile.Spec{}, fmt.Errorf("image_id is required (set it on the instance or in defaults)")
	}

	return spec, nil
}

// dedupeRules collapses duplicate security rules while preserving the
// first occurrence's position.
func dedupeRules(rules []provider.SecurityRule) []provider.SecurityRule {
	if len(rules) == 0 {
		return nil
	}
	seen := make(map[provider.SecurityRule]bool, len(rules))
	out := make([]provider.SecurityRule, 0, len(rules))
	for _, r := range rules {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
