package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"feedbackintel/internal/httpx"
)

// bedrockInvoker is the subset of *bedrockruntime.Client the oracle uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOracle invokes Claude models hosted on AWS Bedrock. Credentials come
// from the default AWS chain (env, shared config, IAM role).
type BedrockOracle struct {
	usageMeter
	client    bedrockInvoker
	model     string
	maxTokens int
}

func NewBedrockOracle(ctx context.Context, region, model string, maxTokens int) (*BedrockOracle, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpx.Client()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &BedrockOracle{
		client:    bedrockruntime.NewFromConfig(cfg),
		model:     modelOrDefault(model, defaultBedrockModel),
		maxTokens: maxTokens,
	}, nil
}

func (o *BedrockOracle) Name() string {
	return "bedrock/" + o.model
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (o *BedrockOracle) Run(ctx context.Context, instructions, userText string) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		System:           instructions,
		Messages:         []bedrockMessage{{Role: "user", Content: userText}},
		MaxTokens:        o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := o.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(o.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock API error: %w", err)
	}

	var out bedrockResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	usage := LLMUsage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens}
	o.record(usage)
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			log.Printf("llm bedrock response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, nil
		}
	}
	log.Printf("llm bedrock response had no text block tokens_out=%d", usage.OutputTokens)
	return "", nil
}
