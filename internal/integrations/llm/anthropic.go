package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"feedbackintel/internal/httpx"
)

type AnthropicOracle struct {
	usageMeter
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicOracle builds an oracle on the Messages API. Extra options are
// applied after the defaults (base URL overrides in tests, retries).
func NewAnthropicOracle(apiKey, model string, maxTokens int, opts ...option.RequestOption) *AnthropicOracle {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpx.Client()),
	}
	return &AnthropicOracle{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     modelOrDefault(model, defaultAnthropicModel),
		maxTokens: maxTokens,
	}
}

func (o *AnthropicOracle) Name() string {
	return "anthropic/" + o.model
}

func (o *AnthropicOracle) Run(ctx context.Context, instructions, userText string) (string, error) {
	message, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: int64(o.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: instructions, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userText)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	o.record(usage)

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheReadInputTokens)
			return block.Text, nil
		}
	}
	log.Printf("llm anthropic response had no text block tokens_out=%d", usage.OutputTokens)
	return "", nil
}
