package generator

import (
	"fmt"

	"brandforge/internal/config"
	"brandforge/internal/types"
)

// New selects a TextGenerator implementation from config.
func New(cfg config.GeneratorConfig) (types.TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIGenerator(cfg)
	case "gemini":
		return NewGeminiGenerator(cfg)
	case "static":
		return NewStaticGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
