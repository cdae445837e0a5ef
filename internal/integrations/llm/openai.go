package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"feedbackintel/internal/httpx"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIOracle talks to the Chat Completions API or any compatible endpoint
// (set baseURL, e.g. a Workers AI or local gateway).
type OpenAIOracle struct {
	usageMeter
	client    openaigo.Client
	model     string
	maxTokens int
}

func NewOpenAIOracle(apiKey, baseURL, model string, maxTokens int, opts ...option.RequestOption) *OpenAIOracle {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	base := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpx.Client()),
	}
	return &OpenAIOracle{
		client:    openaigo.NewClient(append(base, opts...)...),
		model:     modelOrDefault(model, defaultOpenAIModel),
		maxTokens: maxTokens,
	}
}

func (o *OpenAIOracle) Name() string {
	return "openai/" + o.model
}

func (o *OpenAIOracle) Run(ctx context.Context, instructions, userText string) (string, error) {
	params := openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(o.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(instructions),
			openaigo.UserMessage(userText),
		},
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openaigo.Int(int64(o.maxTokens))
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	o.record(usage)
	if len(resp.Choices) == 0 {
		log.Printf("llm openai response had no choices tokens_out=%d", usage.OutputTokens)
		return "", nil
	}
	text := resp.Choices[0].Message.Content
	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(text), usage.InputTokens, usage.OutputTokens)
	return text, nil
}
