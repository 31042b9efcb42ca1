package scanner

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"brandforge/internal/types"

	"gopkg.in/yaml.v3"
)

// Rule IDs for the two guardrail-driven rule classes. Pattern rules
// carry their own IDs from the catalogue.
const (
	RuleForbiddenPhrase       = "forbidden_phrase"
	RuleRequiredPhraseMissing = "required_phrase_missing"
)

//go:embed rules.yaml
var defaultCatalogue []byte

// PatternRule is one entry of the fixed risk-pattern catalogue. A rule
// matches either by exact phrase (boundary-aware, like forbidden words)
// or by regular expression over the case-folded text.
type PatternRule struct {
	ID           string   `yaml:"id"`
	Risk         string   `yaml:"risk"` // high, medium, low
	Reason       string   `yaml:"reason"`
	Phrases      []string `yaml:"phrases,omitempty"`
	Patterns     []string `yaml:"patterns,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty"`
}

// catalogueFile is the on-disk shape of the rule catalogue.
type catalogueFile struct {
	// Substitutions suggests replacements for forbidden phrases, keyed
	// by the case-folded phrase.
	Substitutions map[string][]string `yaml:"substitutions"`
	Rules         []PatternRule       `yaml:"rules"`
}

// compiledRule pairs a catalogue entry with its compiled regexps.
type compiledRule struct {
	PatternRule
	level    types.RiskLevel
	patterns []*regexp.Regexp
}

// loadCatalogue parses and compiles a rule catalogue. path == "" loads
// the embedded default.
func loadCatalogue(path string) (map[string][]string, []compiledRule, error) {
	data := defaultCatalogue
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read rule catalogue: %w", err)
		}
		data = b
	}

	var cf catalogueFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse rule catalogue: %w", err)
	}

	subs := make(map[string][]string, len(cf.Substitutions))
	for phrase, alts := range cf.Substitutions {
		subs[asciiFold(phrase)] = alts
	}

	compiled := make([]compiledRule, 0, len(cf.Rules))
	for _, r := range cf.Rules {
		cr := compiledRule{PatternRule: r}
		switch r.Risk {
		case "high":
			cr.level = types.RiskHigh
		case "medium":
			cr.level = types.RiskMedium
		case "low":
			cr.level = types.RiskLow
		default:
			return nil, nil, fmt.Errorf("rule %q: unknown risk level %q", r.ID, r.Risk)
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, nil, fmt.Errorf("rule %q: bad pattern %q: %w", r.ID, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		compiled = append(compiled, cr)
	}

	return subs, compiled, nil
}
