// ABOUTME: Anthropic provider adapter using the Messages API
// ABOUTME: Normalizes history to start with a user turn and concatenates text blocks

package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicProvider implements Provider for Claude models.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic-backed provider. Extra SDK
// options are appended after the ones derived from cfg.
func NewAnthropicProvider(cfg ProviderConfig, extra ...option.RequestOption) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, extra...)

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	client := anthropic.NewClient(clientOpts...)
	return &AnthropicProvider{
		client: &client,
		model:  model,
	}, nil
}

// Name returns the provider identifier
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete performs a non-streaming message request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

func (p *AnthropicProvider) buildParams(req *Request) anthropic.MessageNewParams {
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system := req.SystemPrompt
	if req.JSON {
		system += "\n\nRespond with a single JSON object and nothing else."
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Messages:    anthropicMessages(req.History),
		Temperature: anthropic.Float(req.Params.Temperature),
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// anthropicMessages converts history, dropping leading assistant turns
// because the conversation must open with a user message.
func anthropicMessages(history []Turn) []anthropic.MessageParam {
	start := 0
	for start < len(history) && history[start].Role == SpeakerAssistant {
		start++
	}

	result := make([]anthropic.MessageParam, 0, len(history)-start)
	for _, turn := range history[start:] {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == SpeakerAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}
