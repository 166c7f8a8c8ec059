// Package llm performs the external scenario generation call using langchaingo
// providers and a Bedrock adapter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/config"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyResponse is returned when a provider answers without any choice.
var ErrEmptyResponse = errors.New("no response choices")

// Model wraps a langchaingo model for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	maxTokens int
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration. collector may be nil.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
			ollama.WithFormat("json"),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key required", ErrFatalAPI)
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: Anthropic API key required", ErrFatalAPI)
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		model, err = NewBedrock(ctx, cfg.AWSRegion, cfg.LLMModel)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return newModelFromLLM(model, cfg.LLMModel, cfg.LLMMaxTokens, collector), nil
}

func newModelFromLLM(model llms.Model, name string, maxTokens int, collector *metrics.Collector) *Model {
	return &Model{
		llm:       model,
		modelName: name,
		maxTokens: maxTokens,
		metrics:   collector,
	}
}

// GenerateWithSystem generates text with a system prompt. An empty model
// uses the configured default. Provider errors are classified with
// ErrFatalAPI and ErrRateLimited.
func (m *Model) GenerateWithSystem(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if model == "" {
		model = m.modelName
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	opts := []llms.CallOption{llms.WithModel(model)}
	if m.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(m.maxTokens))
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	duration := time.Since(start)

	if err != nil {
		slog.Debug("generation call failed", "model", model, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("generate with system: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, duration, in, out)
	slog.Debug("generation call complete", "model", model, "duration_ms", duration.Milliseconds(), "input_tokens", in, "output_tokens", out)

	return choice.Content, nil
}

// Model returns the default LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads token counts from provider generation info. Anthropic
// and Bedrock report Input/OutputTokens, OpenAI and Ollama Prompt/CompletionTokens.
func tokenUsage(info map[string]any) (int64, int64) {
	in := firstInt(info, "InputTokens", "PromptTokens")
	out := firstInt(info, "OutputTokens", "CompletionTokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
