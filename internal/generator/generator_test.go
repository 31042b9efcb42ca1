package generator

import (
	"context"
	"testing"

	"brandforge/internal/config"
	"brandforge/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBrief() types.CampaignBrief {
	return types.CampaignBrief{
		CampaignID: "camp-1",
		Product:    "Aqua Cream",
		Offer:      "30% launch discount",
		Channels:   []string{"Instagram", "YouTube Shorts"},
	}
}

func TestSectionsForStep(t *testing.T) {
	assert.Equal(t, []string{"positioning", "key_message"}, SectionsForStep(types.StepBrief, nil))
	assert.Equal(t, []string{"script", "cta"}, SectionsForStep(types.StepCreative, nil))

	// An explicit subset wins and comes back sorted.
	assert.Equal(t, []string{"headline", "offer_terms"},
		SectionsForStep(types.StepOffer, []string{"offer_terms", "headline"}))
}

func TestBuildPrompt_CarriesGuardrail(t *testing.T) {
	guardrail := types.GuardrailConfig{
		ForbiddenWords:  []string{"완치"},
		RequiredPhrases: []string{"개인차가 있을 수 있습니다"},
		ToneDescriptor:  "따뜻하고 담백하게",
	}
	system, user := buildPrompt(types.StepOffer, testBrief(), guardrail, []string{"headline"}, "shorter")

	assert.Contains(t, system, "완치")
	assert.Contains(t, system, "개인차가 있을 수 있습니다")
	assert.Contains(t, system, "따뜻하고 담백하게")
	assert.Contains(t, user, "Aqua Cream")
	assert.Contains(t, user, "headline")
	assert.Contains(t, user, "shorter")
}

func TestParseSections_PlainObject(t *testing.T) {
	raw := `{"headline": "Meet Aqua Cream.", "subheadline": "Now 30% off."}`
	sections, err := parseSections(raw, types.StepOffer, []string{"headline", "subheadline"})
	require.NoError(t, err)
	assert.Equal(t, "Meet Aqua Cream.", sections["headline"].Value)
	assert.Equal(t, types.StepOffer, sections["headline"].Step)
}

func TestParseSections_MarkdownFences(t *testing.T) {
	raw := "```json\n{\"cta\": \"Try it today.\"}\n```"
	sections, err := parseSections(raw, types.StepCreative, []string{"cta"})
	require.NoError(t, err)
	assert.Equal(t, "Try it today.", sections["cta"].Value)
}

func TestParseSections_ListShape(t *testing.T) {
	raw := `{"hashtags": ["#aquacream", "#skincare"], "channel_copy": "text"}`
	sections, err := parseSections(raw, types.StepChannel, []string{"channel_copy", "hashtags"})
	require.NoError(t, err)
	assert.Equal(t, []string{"#aquacream", "#skincare"}, sections["hashtags"].Items)
	assert.Empty(t, sections["hashtags"].Value)
}

func TestParseSections_Errors(t *testing.T) {
	_, err := parseSections("not json", types.StepOffer, []string{"headline"})
	assert.Error(t, err)

	_, err = parseSections(`{"headline": "x"}`, types.StepOffer, []string{"headline", "subheadline"})
	assert.ErrorContains(t, err, "subheadline")

	// Wrong shape: prose section with an array value.
	_, err = parseSections(`{"headline": ["x"]}`, types.StepOffer, []string{"headline"})
	assert.Error(t, err)

	// Wrong shape: list section with a string value.
	_, err = parseSections(`{"hashtags": "#one"}`, types.StepChannel, []string{"hashtags"})
	assert.Error(t, err)
}

func TestStaticGenerator_Deterministic(t *testing.T) {
	g := NewStaticGenerator()
	brief := testBrief()
	guardrail := types.GuardrailConfig{RequiredPhrases: []string{"개인차가 있을 수 있습니다"}}

	first, err := g.Generate(context.Background(), types.StepOffer, brief, guardrail, nil, "")
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), types.StepOffer, brief, guardrail, nil, "")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same inputs produced different output:\n%s", diff)
	}

	// Required phrases ride along in every prose section.
	for key, section := range first {
		if section.Value == "" {
			continue
		}
		assert.Contains(t, section.Value, "개인차가 있을 수 있습니다", "section %s", key)
	}
}

func TestStaticGenerator_ExtraInstructionsChangeOutput(t *testing.T) {
	g := NewStaticGenerator()
	brief := testBrief()

	plain, err := g.Generate(context.Background(), types.StepOffer, brief, types.GuardrailConfig{}, []string{"headline"}, "")
	require.NoError(t, err)
	tweaked, err := g.Generate(context.Background(), types.StepOffer, brief, types.GuardrailConfig{}, []string{"headline"}, "shorter")
	require.NoError(t, err)

	assert.NotEqual(t, plain["headline"].Value, tweaked["headline"].Value)
}

func TestStaticGenerator_HonorsCancelledContext(t *testing.T) {
	g := NewStaticGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, types.StepBrief, testBrief(), types.GuardrailConfig{}, nil, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactory(t *testing.T) {
	g, err := New(config.GeneratorConfig{Provider: "static"})
	require.NoError(t, err)
	assert.IsType(t, &StaticGenerator{}, g)

	g, err = New(config.GeneratorConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	_, err = New(config.GeneratorConfig{Provider: "openai"})
	assert.Error(t, err, "openai without api key must fail")

	_, err = New(config.GeneratorConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
