// Package types holds the shared data model for the content pipeline:
// briefs, guardrails, generation steps, artifact versions, and risk
// annotations. All pipeline packages depend on this package and nothing
// in it depends on them.
package types

import (
	"sort"
	"strings"
	"time"
)

// GenerationStep identifies one stage of the fixed generation sequence.
type GenerationStep string

const (
	StepBrief    GenerationStep = "brief"    // Positioning and key message
	StepOffer    GenerationStep = "offer"    // Headline, subheadline, offer terms
	StepChannel  GenerationStep = "channel"  // Channel copy and hashtags
	StepCreative GenerationStep = "creative" // Script and call to action
	StepComplete GenerationStep = "complete" // Terminal marker, produces nothing
)

// StepOrder is the fixed execution order. StepComplete is a terminal
// marker and never invokes the generator.
var StepOrder = []GenerationStep{StepBrief, StepOffer, StepChannel, StepCreative}

// StepIndex returns the position of step in StepOrder, or -1 for
// unknown steps and StepComplete.
func StepIndex(step GenerationStep) int {
	for i, s := range StepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// StepState represents the lifecycle state of a single generation step.
type StepState string

const (
	StepPending    StepState = "pending"
	StepProcessing StepState = "processing"
	StepCompleted  StepState = "completed"
	StepFailed     StepState = "failed"
)

// Terminal reports whether a step state permits no further transitions.
func (s StepState) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// StepStatus is the per-step progress record for a run. Progress is
// advisory: consumers must tolerate a single 0 to 100 jump.
type StepStatus struct {
	Step     GenerationStep `json:"step"`
	State    StepState      `json:"state"`
	Progress int            `json:"progress"` // 0-100
	Error    string         `json:"error,omitempty"`
}

// CampaignBrief is the immutable input for one generation run. A new
// run requires a new brief snapshot; the pipeline never mutates it.
type CampaignBrief struct {
	CampaignID     string    `json:"campaign_id"`
	Product        string    `json:"product"`
	Attributes     []string  `json:"attributes,omitempty"`
	TargetSegments []string  `json:"target_segments,omitempty"`
	Channels       []string  `json:"channels,omitempty"`
	Offer          string    `json:"offer"`
	GuardrailRef   string    `json:"guardrail_ref,omitempty"`
	AuthoredAt     time.Time `json:"authored_at"`
}

// Validate checks the fields a run cannot proceed without.
func (b CampaignBrief) Validate() error {
	if strings.TrimSpace(b.CampaignID) == "" {
		return ErrInvalidBrief
	}
	if strings.TrimSpace(b.Product) == "" {
		return ErrInvalidBrief
	}
	if strings.TrimSpace(b.Offer) == "" {
		return ErrInvalidBrief
	}
	return nil
}

// GuardrailConfig is the workspace brand-safety constraint set. The
// pipeline captures a snapshot at run start, so concurrent settings
// edits never affect an in-flight run.
type GuardrailConfig struct {
	ForbiddenWords  []string `json:"forbidden_words"`
	RequiredPhrases []string `json:"required_phrases"`
	ToneDescriptor  string   `json:"tone_descriptor"`
}

// Clone returns a deep copy. Used to hand out snapshots.
func (g GuardrailConfig) Clone() GuardrailConfig {
	out := GuardrailConfig{ToneDescriptor: g.ToneDescriptor}
	if g.ForbiddenWords != nil {
		out.ForbiddenWords = append([]string(nil), g.ForbiddenWords...)
	}
	if g.RequiredPhrases != nil {
		out.RequiredPhrases = append([]string(nil), g.RequiredPhrases...)
	}
	return out
}

// ContentSection is the atomic unit of generated content. Value holds
// prose sections; Items holds list-shaped sections such as hashtags.
// Step records which generation step originally produced the section,
// which scopes later partial regeneration.
type ContentSection struct {
	Key   string         `json:"key"`
	Value string         `json:"value,omitempty"`
	Items []string       `json:"items,omitempty"`
	Step  GenerationStep `json:"step"`
}

// Text returns the scannable text of the section. List sections are
// joined with newlines so annotation offsets stay stable.
func (c ContentSection) Text() string {
	if len(c.Items) > 0 {
		return strings.Join(c.Items, "\n")
	}
	return c.Value
}

// ArtifactVersion is an immutable snapshot of all sections for one
// campaign. Version numbers are contiguous per campaign starting at 1.
type ArtifactVersion struct {
	CampaignID string                    `json:"campaign_id"`
	Version    int                       `json:"version"`
	Sections   map[string]ContentSection `json:"sections"`
	CreatedAt  time.Time                 `json:"created_at"`
	OriginStep GenerationStep            `json:"origin_step"`
}

// SectionKeys returns the section keys in lexical order.
func (v ArtifactVersion) SectionKeys() []string {
	keys := make([]string, 0, len(v.Sections))
	for k := range v.Sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RiskLevel classifies the severity of a risk annotation.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// riskRank orders levels for sorting: high before medium before low.
func (r RiskLevel) rank() int {
	switch r {
	case RiskHigh:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// Less reports whether r sorts before other when annotation offsets tie.
func (r RiskLevel) Less(other RiskLevel) bool {
	return r.rank() < other.rank()
}

// RiskAnnotation flags one byte span of a section. Offsets are byte
// offsets into ContentSection.Text(). Annotations for one section are
// non-overlapping and sorted by OffsetStart.
type RiskAnnotation struct {
	SectionKey   string    `json:"section_key"`
	OffsetStart  int       `json:"offset_start"`
	OffsetEnd    int       `json:"offset_end"`
	RiskLevel    RiskLevel `json:"risk_level"`
	RuleID       string    `json:"rule_id"`
	Reason       string    `json:"reason"`
	Alternatives []string  `json:"alternatives"`
}

// ComplianceReport aggregates annotations for one artifact version.
type ComplianceReport struct {
	Version      int              `json:"version"`
	Annotations  []RiskAnnotation `json:"annotations"`
	OverallScore int              `json:"overall_score"`
}
