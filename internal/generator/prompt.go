// Package generator provides TextGenerator implementations: an OpenAI
// chat-completions client, a Gemini client, and a deterministic static
// generator for tests and offline use. A factory selects the provider
// from config.
package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"brandforge/internal/types"
)

// StepSections maps each generation step to the section keys it
// produces. The hashtags section is list-shaped; everything else is
// prose.
var StepSections = map[types.GenerationStep][]string{
	types.StepBrief:    {"positioning", "key_message"},
	types.StepOffer:    {"headline", "subheadline", "offer_terms"},
	types.StepChannel:  {"channel_copy", "hashtags"},
	types.StepCreative: {"script", "cta"},
}

// listSections are sections whose value is a string array.
var listSections = map[string]bool{
	"hashtags": true,
}

// SectionsForStep returns the target keys for a step call: the
// requested subset when given, otherwise everything the step produces.
func SectionsForStep(step types.GenerationStep, targetSections []string) []string {
	if len(targetSections) > 0 {
		out := append([]string(nil), targetSections...)
		sort.Strings(out)
		return out
	}
	return StepSections[step]
}

// stepGoals describes each step for the prompt.
var stepGoals = map[types.GenerationStep]string{
	types.StepBrief:    "Distill the brief into a positioning statement and a single key message.",
	types.StepOffer:    "Write the offer-led copy: headline, subheadline, and the offer terms.",
	types.StepChannel:  "Adapt the message for the campaign channels and propose hashtags.",
	types.StepCreative: "Write a short creative script and a closing call to action.",
}

// buildPrompt renders the system and user prompts for one generator
// call. Guardrail constraints are stated in the prompt; the scanner
// still verifies the output afterwards.
func buildPrompt(step types.GenerationStep, brief types.CampaignBrief, guardrail types.GuardrailConfig, targets []string, extraInstructions string) (system, user string) {
	var sys strings.Builder
	sys.WriteString("You are a marketing copywriter. Respond with a single JSON object mapping section keys to content. ")
	sys.WriteString("Prose sections are strings; list sections are arrays of strings. No markdown fences, no commentary.")
	if guardrail.ToneDescriptor != "" {
		fmt.Fprintf(&sys, "\nTone: %s.", guardrail.ToneDescriptor)
	}
	if len(guardrail.ForbiddenWords) > 0 {
		fmt.Fprintf(&sys, "\nNever use these phrases: %s.", strings.Join(guardrail.ForbiddenWords, ", "))
	}
	if len(guardrail.RequiredPhrases) > 0 {
		fmt.Fprintf(&sys, "\nEach section must naturally include: %s.", strings.Join(guardrail.RequiredPhrases, ", "))
	}

	var usr strings.Builder
	fmt.Fprintf(&usr, "Step: %s. %s\n", step, stepGoals[step])
	fmt.Fprintf(&usr, "Product: %s\n", brief.Product)
	if len(brief.Attributes) > 0 {
		fmt.Fprintf(&usr, "Attributes: %s\n", strings.Join(brief.Attributes, ", "))
	}
	if len(brief.TargetSegments) > 0 {
		fmt.Fprintf(&usr, "Target segments: %s\n", strings.Join(brief.TargetSegments, ", "))
	}
	if len(brief.Channels) > 0 {
		fmt.Fprintf(&usr, "Channels: %s\n", strings.Join(brief.Channels, ", "))
	}
	fmt.Fprintf(&usr, "Offer: %s\n", brief.Offer)
	fmt.Fprintf(&usr, "Produce exactly these sections: %s\n", strings.Join(targets, ", "))
	if extraInstructions != "" {
		fmt.Fprintf(&usr, "Additional instructions: %s\n", extraInstructions)
	}

	return sys.String(), usr.String()
}

// parseSections decodes a model response into content sections. It
// tolerates markdown fences but is otherwise strict: every requested
// key must be present with the right shape.
func parseSections(raw string, step types.GenerationStep, targets []string) (map[string]types.ContentSection, error) {
	cleaned := stripFences(raw)

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}

	out := make(map[string]types.ContentSection, len(targets))
	for _, key := range targets {
		rawVal, ok := decoded[key]
		if !ok {
			return nil, fmt.Errorf("response missing section %q", key)
		}
		section := types.ContentSection{Key: key, Step: step}
		if listSections[key] {
			if err := json.Unmarshal(rawVal, &section.Items); err != nil {
				return nil, fmt.Errorf("section %q: expected string array: %w", key, err)
			}
		} else {
			if err := json.Unmarshal(rawVal, &section.Value); err != nil {
				return nil, fmt.Errorf("section %q: expected string: %w", key, err)
			}
		}
		out[key] = section
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
