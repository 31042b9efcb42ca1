package types

import "context"

// TextGenerator is the injected language-generation capability. The
// orchestrator treats any non-nil error as step failure and does not
// interpret error contents.
//
// For a full step, targetSections is nil and the generator returns
// every section the step produces. For partial regeneration,
// targetSections names the wanted keys and extraInstructions carries
// additional operator constraints.
type TextGenerator interface {
	Generate(ctx context.Context, step GenerationStep, brief CampaignBrief, guardrail GuardrailConfig, targetSections []string, extraInstructions string) (map[string]ContentSection, error)
}
