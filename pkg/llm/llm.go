// Package llm wraps the language model used by the assistant: a text-in,
// text-out Generator, JSON extraction from free-form answers, and the
// tokenizer used to budget prompts.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrisonrobin/aide/pkg/config"
	"go.uber.org/zap"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewGenerator builds the provider selected in cfg.
func NewGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.MaxTokens, logger)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, cfg.MaxTokens, logger), nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}

// Complete calls g and returns the trimmed answer, or "" when the call
// failed. Failures are logged, never returned: callers treat an empty
// answer as "no result".
func Complete(ctx context.Context, g Generator, prompt string, logger *zap.Logger) string {
	out, err := g.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("language model call failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}
