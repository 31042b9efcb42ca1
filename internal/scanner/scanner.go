// Package scanner implements the compliance rule engine. It scans
// generated section text against a guardrail snapshot plus a fixed
// risk-pattern catalogue and produces ordered, non-overlapping risk
// annotations with an overall compliance score.
//
// Scanning never fails on well-formed input: malformed guardrail
// configs are rejected at save time, and text the catalogue cannot
// classify simply yields no annotations.
package scanner

import (
	"sort"
	"strings"
	"sync"

	"brandforge/internal/logging"
	"brandforge/internal/types"
)

// Weights controls the score penalty per annotation by risk level.
// The 10/4/1 default is a design choice, not derived from data.
type Weights struct {
	High   int
	Medium int
	Low    int
}

// DefaultWeights is the stock scoring weight set.
var DefaultWeights = Weights{High: 10, Medium: 4, Low: 1}

// EngineConfig configures a scanner engine.
type EngineConfig struct {
	Weights   Weights
	RulesPath string // Optional catalogue override; "" uses the embedded default
}

// Engine scans section text. Engines are safe for concurrent use.
type Engine struct {
	weights Weights
	subs    map[string][]string
	rules   []compiledRule

	mu    sync.Mutex
	cache map[cacheKey][]types.RiskAnnotation
}

// cacheKey identifies one scanned (version, section) pair. Versions are
// immutable, so cached annotations never go stale.
type cacheKey struct {
	campaignID string
	version    int
	sectionKey string
}

// NewEngine builds an engine from config, loading and compiling the
// rule catalogue once.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	subs, rules, err := loadCatalogue(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	logging.Scanner("Engine ready: %d pattern rules, %d substitutions", len(rules), len(subs))
	return &Engine{
		weights: cfg.Weights,
		subs:    subs,
		rules:   rules,
		cache:   make(map[cacheKey][]types.RiskAnnotation),
	}, nil
}

// match is one candidate span before overlap resolution.
type match struct {
	start, end int
	level      types.RiskLevel
	ruleID     string
	reason     string
	alts       []string
	rank       int // 0 = forbidden phrase, 1 = pattern catalogue
}

// Scan returns the annotations for one section's text against the
// guardrail snapshot. The result is sorted by offset (ties: high before
// medium before low) and spans never overlap. Scanning the same inputs
// twice yields identical output.
func (e *Engine) Scan(sectionKey, text string, guardrail types.GuardrailConfig) []types.RiskAnnotation {
	folded := asciiFold(text)

	var candidates []match

	// Forbidden phrases: every boundary-aware occurrence is high risk.
	for _, word := range guardrail.ForbiddenWords {
		needle := asciiFold(word)
		for _, span := range findOccurrences(folded, needle) {
			candidates = append(candidates, match{
				start:  span[0],
				end:    span[1],
				level:  types.RiskHigh,
				ruleID: RuleForbiddenPhrase,
				reason: "forbidden phrase",
				alts:   e.subs[needle],
				rank:   0,
			})
		}
	}

	// Pattern catalogue.
	for _, rule := range e.rules {
		for _, phrase := range rule.Phrases {
			for _, span := range findOccurrences(folded, asciiFold(phrase)) {
				candidates = append(candidates, match{
					start:  span[0],
					end:    span[1],
					level:  rule.level,
					ruleID: rule.ID,
					reason: rule.Reason,
					alts:   rule.Alternatives,
					rank:   1,
				})
			}
		}
		for _, re := range rule.patterns {
			for _, loc := range re.FindAllStringIndex(folded, -1) {
				candidates = append(candidates, match{
					start:  loc[0],
					end:    loc[1],
					level:  rule.level,
					ruleID: rule.ID,
					reason: rule.Reason,
					alts:   rule.Alternatives,
					rank:   1,
				})
			}
		}
	}

	kept := resolveOverlaps(candidates)

	annotations := make([]types.RiskAnnotation, 0, len(kept)+len(guardrail.RequiredPhrases))

	// Required phrases: absence anchors one medium annotation at offset
	// 0. Nothing to substitute; the remedy is insertion.
	for _, phrase := range guardrail.RequiredPhrases {
		if !strings.Contains(folded, asciiFold(phrase)) {
			annotations = append(annotations, types.RiskAnnotation{
				SectionKey:   sectionKey,
				OffsetStart:  0,
				OffsetEnd:    0,
				RiskLevel:    types.RiskMedium,
				RuleID:       RuleRequiredPhraseMissing,
				Reason:       "required phrase missing",
				Alternatives: []string{},
			})
		}
	}

	for _, m := range kept {
		alts := m.alts
		if alts == nil {
			alts = []string{}
		}
		annotations = append(annotations, types.RiskAnnotation{
			SectionKey:   sectionKey,
			OffsetStart:  m.start,
			OffsetEnd:    m.end,
			RiskLevel:    m.level,
			RuleID:       m.ruleID,
			Reason:       m.reason,
			Alternatives: alts,
		})
	}

	sortAnnotations(annotations)

	logging.ScannerDebug("Scan %q: %d candidates -> %d annotations", sectionKey, len(candidates), len(annotations))
	return annotations
}

// ScanVersion scans every section of an immutable artifact version,
// caching per (version, section). Returns the merged compliance report.
func (e *Engine) ScanVersion(v types.ArtifactVersion, guardrail types.GuardrailConfig) types.ComplianceReport {
	var all []types.RiskAnnotation
	for _, key := range v.SectionKeys() {
		section := v.Sections[key]
		ck := cacheKey{campaignID: v.CampaignID, version: v.Version, sectionKey: key}

		e.mu.Lock()
		cached, ok := e.cache[ck]
		e.mu.Unlock()
		if !ok {
			cached = e.Scan(key, section.Text(), guardrail)
			e.mu.Lock()
			e.cache[ck] = cached
			e.mu.Unlock()
		}
		all = append(all, cached...)
	}
	return types.ComplianceReport{
		Version:      v.Version,
		Annotations:  all,
		OverallScore: e.Score(all),
	}
}

// Score computes the overall compliance score for a set of annotations:
// 100 minus the weighted annotation counts, floored at 0.
func (e *Engine) Score(annotations []types.RiskAnnotation) int {
	var high, medium, low int
	for _, a := range annotations {
		switch a.RiskLevel {
		case types.RiskHigh:
			high++
		case types.RiskMedium:
			medium++
		default:
			low++
		}
	}
	score := 100 - (e.weights.High*high + e.weights.Medium*medium + e.weights.Low*low)
	if score < 0 {
		score = 0
	}
	return score
}

// ClearCache drops all cached per-version scan results.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[cacheKey][]types.RiskAnnotation)
}

// resolveOverlaps keeps the earliest-starting, then longest match and
// discards the rest (greedy, leftmost-longest, non-overlapping).
// Forbidden-phrase matches win ties against catalogue matches on the
// same span.
func resolveOverlaps(candidates []match) []match {
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.start != b.start {
			return a.start < b.start
		}
		if a.end != b.end {
			return a.end > b.end
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.ruleID < b.ruleID
	})

	kept := candidates[:0]
	lastEnd := -1
	for _, m := range candidates {
		if m.start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.end
	}
	return kept
}

// sortAnnotations orders by offset, then risk level (high first), then
// rule id so repeated scans are byte-identical.
func sortAnnotations(annotations []types.RiskAnnotation) {
	sort.Slice(annotations, func(i, j int) bool {
		a, b := annotations[i], annotations[j]
		if a.OffsetStart != b.OffsetStart {
			return a.OffsetStart < b.OffsetStart
		}
		if a.RiskLevel != b.RiskLevel {
			return a.RiskLevel.Less(b.RiskLevel)
		}
		return a.RuleID < b.RuleID
	})
}

// asciiFold lowercases ASCII letters byte-wise, leaving all other bytes
// untouched. Length-preserving, so offsets into the folded text are
// valid offsets into the original.
func asciiFold(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// findOccurrences returns non-overlapping occurrences of needle in the
// folded haystack. A match whose Latin-or-digit edge touches another
// Latin-or-digit byte is a strict substring of a larger token and is
// rejected. Non-Latin edges (Korean, CJK) match by plain substring;
// there is no whitespace word boundary to honor there.
func findOccurrences(folded, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	var out [][2]int
	pos := 0
	for pos <= len(folded)-len(needle) {
		i := strings.Index(folded[pos:], needle)
		if i < 0 {
			break
		}
		start := pos + i
		end := start + len(needle)
		if boundaryOK(folded, start, end) {
			out = append(out, [2]int{start, end})
			pos = end
		} else {
			pos = start + 1
		}
	}
	return out
}

func latinWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func boundaryOK(s string, start, end int) bool {
	if start > 0 && latinWordByte(s[start]) && latinWordByte(s[start-1]) {
		return false
	}
	if end < len(s) && latinWordByte(s[end-1]) && latinWordByte(s[end]) {
		return false
	}
	return true
}
