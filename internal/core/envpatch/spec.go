package envpatch

import (
	"fmt"
	"strings"
)

// RuleSpec is the declarative form of a rule, as read from configuration.
type RuleSpec struct {
	Kind     Kind   `mapstructure:"kind" yaml:"kind"`
	Key      string `mapstructure:"key" yaml:"key"`
	Value    string `mapstructure:"value" yaml:"value,omitempty"`
	Contains string `mapstructure:"contains" yaml:"contains,omitempty"`
	To       string `mapstructure:"to" yaml:"to,omitempty"`
}

// DefaultRuleSpecs returns the rules applied when configuration does not
// provide any. Service URLs left pointing at localhost from local development
// would shadow the container hostnames the manifest injects, so they are
// removed.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{Kind: KindRemove, Key: "DATABASE_URL", Contains: "localhost"},
		{Kind: KindRemove, Key: "DATABASE_URL_SYNC", Contains: "localhost"},
		{Kind: KindRemove, Key: "REDIS_URL", Contains: "localhost"},
	}
}

// Build converts a spec into a Rule.
func Build(spec RuleSpec) (Rule, error) {
	if err := validateKey(spec.Key); err != nil {
		return Rule{}, err
	}

	switch spec.Kind {
	case KindRemove:
		return RemoveKey(spec.Key, spec.Contains), nil
	case KindSet:
		if strings.ContainsAny(spec.Value, "\r\n") {
			return Rule{}, ErrRuleValueInvalid
		}
		return SetKey(spec.Key, spec.Value), nil
	case KindRename:
		if spec.To == spec.Key {
			return Rule{}, ErrRenameTarget
		}
		if err := validateKey(spec.To); err != nil {
			return Rule{}, ErrRenameTarget
		}
		return RenameKey(spec.Key, spec.To), nil
	default:
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRuleKind, spec.Kind)
	}
}

// BuildAll converts specs in order, reporting the index of the first bad one.
func BuildAll(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		r, err := Build(s)
		if err != nil {
			return nil, fmt.Errorf("env rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func validateKey(key string) error {
	if key == "" {
		return ErrRuleKeyRequired
	}
	if strings.ContainsAny(key, "= \t\n") {
		return ErrRuleKeyInvalid
	}
	return nil
}
