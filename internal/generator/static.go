package generator

import (
	"context"
	"fmt"
	"strings"

	"brandforge/internal/types"
)

// StaticGenerator is a deterministic offline TextGenerator. The same
// inputs always produce the same sections, which makes it the default
// capability for tests and for dry runs without an API key.
type StaticGenerator struct{}

// NewStaticGenerator returns the deterministic generator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

// Generate produces canned copy derived from the brief.
func (g *StaticGenerator) Generate(ctx context.Context, step types.GenerationStep, brief types.CampaignBrief, guardrail types.GuardrailConfig, targetSections []string, extraInstructions string) (map[string]types.ContentSection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets := SectionsForStep(step, targetSections)
	out := make(map[string]types.ContentSection, len(targets))
	for _, key := range targets {
		section := types.ContentSection{Key: key, Step: step}
		if listSections[key] {
			section.Items = staticList(key, brief)
		} else {
			section.Value = staticValue(key, brief, guardrail, extraInstructions)
		}
		out[key] = section
	}
	return out, nil
}

func staticValue(key string, brief types.CampaignBrief, guardrail types.GuardrailConfig, extra string) string {
	var b strings.Builder
	switch key {
	case "positioning":
		fmt.Fprintf(&b, "%s: made for %s.", brief.Product, joinOr(brief.TargetSegments, "everyone"))
	case "key_message":
		fmt.Fprintf(&b, "%s - %s.", brief.Product, brief.Offer)
	case "headline":
		fmt.Fprintf(&b, "Meet %s.", brief.Product)
	case "subheadline":
		fmt.Fprintf(&b, "Now with %s.", brief.Offer)
	case "offer_terms":
		fmt.Fprintf(&b, "Offer: %s. Terms apply.", brief.Offer)
	case "channel_copy":
		fmt.Fprintf(&b, "%s, now on %s. %s.", brief.Product, joinOr(brief.Channels, "all channels"), brief.Offer)
	case "script":
		fmt.Fprintf(&b, "Scene: %s in daily use. Voiceover: %s.", brief.Product, brief.Offer)
	case "cta":
		fmt.Fprintf(&b, "Try %s today.", brief.Product)
	default:
		fmt.Fprintf(&b, "%s for %s.", key, brief.Product)
	}

	// Keeping the guardrail's required phrases in canned copy makes
	// offline runs scan clean by default.
	for _, phrase := range guardrail.RequiredPhrases {
		fmt.Fprintf(&b, " %s", phrase)
	}
	if extra != "" {
		fmt.Fprintf(&b, " [%s]", extra)
	}
	return b.String()
}

func staticList(key string, brief types.CampaignBrief) []string {
	tag := strings.ToLower(strings.ReplaceAll(brief.Product, " ", ""))
	items := []string{"#" + tag}
	for _, ch := range brief.Channels {
		items = append(items, "#"+strings.ToLower(strings.ReplaceAll(ch, " ", "")))
	}
	return items
}

func joinOr(parts []string, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, ", ")
}
