package generator

import (
	"context"
	"errors"
	"fmt"

	"brandforge/internal/config"
	"brandforge/internal/logging"
	"brandforge/internal/types"

	"google.golang.org/genai"
)

// GeminiGenerator implements types.TextGenerator using Google's GenAI
// SDK.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator builds a generator from config.
func NewGeminiGenerator(cfg config.GeneratorConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; set generator.api_key or BRANDFORGE_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate produces the sections for one step call.
func (g *GeminiGenerator) Generate(ctx context.Context, step types.GenerationStep, brief types.CampaignBrief, guardrail types.GuardrailConfig, targetSections []string, extraInstructions string) (map[string]types.ContentSection, error) {
	targets := SectionsForStep(step, targetSections)
	system, user := buildPrompt(step, brief, guardrail, targets, extraInstructions)

	timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("gemini %s", step))
	defer timer.Stop()

	result, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(user),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generation: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, errors.New("gemini: empty response")
	}

	logging.Generator("gemini %s: %d target sections", step, len(targets))
	return parseSections(text, step, targets)
}
