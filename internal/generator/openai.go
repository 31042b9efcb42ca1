package generator

import (
	"context"
	"errors"
	"fmt"

	"brandforge/internal/config"
	"brandforge/internal/logging"
	"brandforge/internal/types"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator implements types.TextGenerator using the official
// openai-go SDK (chat completions).
type OpenAIGenerator struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAIGenerator builds a generator from config.
func NewOpenAIGenerator(cfg config.GeneratorConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set generator.api_key or BRANDFORGE_API_KEY")
	}
	if cfg.Model == "" {
		return nil, errors.New("generator model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{model: cfg.Model, opts: opts}, nil
}

// Generate produces the sections for one step call.
func (g *OpenAIGenerator) Generate(ctx context.Context, step types.GenerationStep, brief types.CampaignBrief, guardrail types.GuardrailConfig, targetSections []string, extraInstructions string) (map[string]types.ContentSection, error) {
	targets := SectionsForStep(step, targetSections)
	system, user := buildPrompt(step, brief, guardrail, targets, extraInstructions)

	timer := logging.StartTimer(logging.CategoryAPI, fmt.Sprintf("openai %s", step))
	defer timer.Stop()

	client := openai.NewClient(g.opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}

	logging.Generator("openai %s: %d target sections", step, len(targets))
	return parseSections(resp.Choices[0].Message.Content, step, targets)
}
