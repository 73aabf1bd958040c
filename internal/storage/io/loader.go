package io

import (
	"context"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// PolicyYAMLRepository loads policy rule sets from YAML files.
type PolicyYAMLRepository struct {
	fs fs.FS
}

// NewPolicyYAMLRepository creates a new YAML policy repository.
func NewPolicyYAMLRepository(filesystem fs.FS) *PolicyYAMLRepository {
	return &PolicyYAMLRepository{fs: filesystem}
}

// GetPolicy loads a policy from a YAML file and returns a validated domain model.
// Any problem with the document is a configuration error.
func (r *PolicyYAMLRepository) GetPolicy(ctx context.Context, path string) (model.PolicyRuleSet, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.PolicyRuleSet{}, fmt.Errorf("reading policy file: %w: %w", model.ErrConfiguration, err)
	}

	if ctx.Err() != nil {
		return model.PolicyRuleSet{}, ctx.Err()
	}

	var doc PolicyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.PolicyRuleSet{}, fmt.Errorf("parsing YAML: %w: %w", model.ErrConfiguration, err)
	}

	if err := doc.validate(); err != nil {
		return model.PolicyRuleSet{}, fmt.Errorf("invalid policy: %w: %w", model.ErrConfiguration, err)
	}

	return doc.toModel(), nil
}

// PolicyDocument represents the YAML structure of a policy.
type PolicyDocument struct {
	Allow []RuleConfig `yaml:"allow"`
	Deny  []RuleConfig `yaml:"deny"`
	// DenyPatterns is the shorthand for deny rules with only a pattern.
	DenyPatterns  []string `yaml:"deny_patterns"`
	EnvAllowlist  []string `yaml:"env_allowlist"`
	WorkingSubdir string   `yaml:"working_subdir"`
	StrictEnv     bool     `yaml:"strict_env"`

	// AllowSubstitution allows `$(...)`, backticks and process substitutions.
	AllowSubstitution bool `yaml:"allow_substitution"`
}

// RuleConfig represents the YAML structure of a rule. A plain string is a
// command rule (e.g. `- python`).
type RuleConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Pattern string `yaml:"pattern"`
	Expr    string `yaml:"expr"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RuleConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Command = value.Value
		return nil
	}

	type plain RuleConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = RuleConfig(p)

	return nil
}

func (d PolicyDocument) validate() error {
	for i, r := range d.Allow {
		if r.Command == "" && r.Pattern == "" && r.Expr == "" {
			return fmt.Errorf("allow rule %d has no matcher", i)
		}
	}
	for i, r := range d.Deny {
		if r.Command == "" && r.Pattern == "" && r.Expr == "" {
			return fmt.Errorf("deny rule %d has no matcher", i)
		}
	}
	for i, p := range d.DenyPatterns {
		if p == "" {
			return fmt.Errorf("deny pattern %d is empty", i)
		}
	}

	return d.toModel().Validate()
}

func (d PolicyDocument) toModel() model.PolicyRuleSet {
	rs := model.PolicyRuleSet{
		EnvAllowlist:  d.EnvAllowlist,
		WorkingSubdir: d.WorkingSubdir,
		StrictEnv:     d.StrictEnv,

		AllowSubstitution: d.AllowSubstitution,
	}

	for _, r := range d.Allow {
		rs.Allow = append(rs.Allow, r.toModel())
	}
	for _, r := range d.Deny {
		rs.Deny = append(rs.Deny, r.toModel())
	}
	for _, p := range d.DenyPatterns {
		rs.Deny = append(rs.Deny, model.PolicyRule{Pattern: p})
	}

	return rs
}

func (r RuleConfig) toModel() model.PolicyRule {
	return model.PolicyRule{
		Name:    r.Name,
		Command: r.Command,
		Pattern: r.Pattern,
		Expr:    r.Expr,
	}
}
