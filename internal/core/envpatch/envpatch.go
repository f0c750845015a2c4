// Package envpatch contains pure functions that reconcile a line-oriented
// KEY=value environment file against a list of idempotent rules.
// This is part of the Functional Core - no I/O happens here.
package envpatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrUnknownRuleKind  = errors.New("unknown env rule kind")
	ErrRuleKeyRequired  = errors.New("env rule key is required")
	ErrRuleKeyInvalid   = errors.New("env rule key must not contain '=' or whitespace")
	ErrRenameTarget     = errors.New("rename rule requires a distinct target key")
	ErrRuleValueInvalid = errors.New("env rule value must be a single line")
	ErrUnparseable      = errors.New("reconciled env text is not valid dotenv")
	ErrNotIdempotent    = errors.New("env rules are not idempotent as a set")
)

// =============================================================================
// Rules
// =============================================================================

// Rule is a predicate over the whole env text plus the transformation applied
// when it matches. A rule must be idempotent: once applied, its predicate no
// longer matches the result.
type Rule struct {
	Name      string
	Kind      Kind
	Key       string
	Predicate func(text string) bool
	Transform func(text string) string
}

// Kind names a rule constructor.
type Kind string

const (
	KindRemove Kind = "remove"
	KindSet    Kind = "set"
	KindRename Kind = "rename"
)

// Change records a rule that modified the text. Values are left out so that
// secrets never reach logs.
type Change struct {
	Rule string `json:"rule"`
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s (%s)", c.Kind, c.Key, c.Rule)
}

// RemoveKey deletes every line assigning key. When contains is non-empty only
// lines whose value contains that substring are deleted.
func RemoveKey(key, contains string) Rule {
	match := func(line string) bool {
		k, v, ok := parseLine(line)
		return ok && k == key && (contains == "" || strings.Contains(v, contains))
	}

	name := "remove " + key
	if contains != "" {
		name += " containing " + contains
	}

	return Rule{
		Name: name,
		Kind: KindRemove,
		Key:  key,
		Predicate: func(text string) bool {
			lines, _ := splitLines(text)
			for _, l := range lines {
				if match(l) {
					return true
				}
			}
			return false
		},
		Transform: func(text string) string {
			lines, trailing := splitLines(text)
			kept := lines[:0:0]
			for _, l := range lines {
				if !match(l) {
					kept = append(kept, l)
				}
			}
			return joinLines(kept, trailing)
		},
	}
}

// SetKey ensures exactly one KEY=value line exists. The first existing
// assignment is replaced in place; duplicates are dropped; a missing key is
// appended.
func SetKey(key, value string) Rule {
	want := key + "=" + value

	return Rule{
		Name: "set " + key,
		Kind: KindSet,
		Key:  key,
		Predicate: func(text string) bool {
			lines, _ := splitLines(text)
			count := 0
			exact := false
			for _, l := range lines {
				if k, _, ok := parseLine(l); ok && k == key {
					count++
					exact = l == want
				}
			}
			return count != 1 || !exact
		},
		Transform: func(text string) string {
			lines, trailing := splitLines(text)
			out := make([]string, 0, len(lines)+1)
			placed := false
			for _, l := range lines {
				if k, _, ok := parseLine(l); ok && k == key {
					if !placed {
						out = append(out, want)
						placed = true
					}
					continue
				}
				out = append(out, l)
			}
			if !placed {
				out = append(out, want)
				trailing = true
			}
			return joinLines(out, trailing)
		},
	}
}

// RenameKey moves the value of from to to. Nothing happens while to already
// exists, so a half-migrated file is never clobbered.
func RenameKey(from, to string) Rule {
	has := func(lines []string, key string) bool {
		for _, l := range lines {
			if k, _, ok := parseLine(l); ok && k == key {
				return true
			}
		}
		return false
	}

	return Rule{
		Name: "rename " + from + " to " + to,
		Kind: KindRename,
		Key:  from,
		Predicate: func(text string) bool {
			lines, _ := splitLines(text)
			return has(lines, from) && !has(lines, to)
		},
		Transform: func(text string) string {
			lines, trailing := splitLines(text)
			out := make([]string, 0, len(lines))
			renamed := false
			for _, l := range lines {
				if k, v, ok := parseLine(l); ok && k == from {
					if !renamed {
						out = append(out, to+"="+v)
						renamed = true
					}
					continue
				}
				out = append(out, l)
			}
			return joinLines(out, trailing)
		},
	}
}

// =============================================================================
// Application
// =============================================================================

// Apply runs rules in declaration order; each rule sees the effects of the
// rules before it. It returns the new text and the rules that changed it.
// When nothing changed the input is returned untouched. A rule set in which a
// later rule undoes an earlier one fails with ErrNotIdempotent.
func Apply(text string, rules []Rule) (string, []Change, error) {
	current := text
	var changes []Change

	for _, r := range rules {
		if r.Predicate == nil || r.Transform == nil || !r.Predicate(current) {
			continue
		}
		next := r.Transform(current)
		if next == current {
			continue
		}
		current = next
		changes = append(changes, Change{Rule: r.Name, Kind: r.Kind, Key: r.Key})
	}

	if len(changes) == 0 {
		return text, nil, nil
	}

	for _, r := range rules {
		if r.Predicate == nil || r.Transform == nil || !r.Predicate(current) {
			continue
		}
		if r.Transform(current) != current {
			return "", nil, fmt.Errorf("%w: %q still applies after the run", ErrNotIdempotent, r.Name)
		}
	}

	if _, err := godotenv.Unmarshal(current); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	return current, changes, nil
}

// Keys returns the keys assigned in text, in order of first appearance.
func Keys(text string) []string {
	lines, _ := splitLines(text)
	seen := make(map[string]bool)
	var keys []string
	for _, l := range lines {
		if k, _, ok := parseLine(l); ok && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// =============================================================================
// Line Helpers
// =============================================================================

// parseLine extracts key and raw value from a KEY=value line. Comments, blank
// lines and lines without '=' are not assignments.
func parseLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")

	idx := strings.IndexByte(trimmed, '=')
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(trimmed[:idx]), trimmed[idx+1:], true
}

func splitLines(text string) ([]string, bool) {
	if text == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n"), trailing
}

func joinLines(lines []string, trailing bool) string {
	if len(lines) == 0 {
		return ""
	}
	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	return out
}
