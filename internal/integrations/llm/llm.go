// Package llm adapts hosted language models to the text-in/text-out oracle
// used by the classifier and the report generators.
package llm

import (
	"context"
	"fmt"
	"log"
	"sync"

	"feedbackintel/internal/config"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultBedrockModel   = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	defaultMaxTokens      = 1024
)

// Oracle sends one instruction/user-text pair to a model and returns the raw
// reply text.
type Oracle interface {
	Run(ctx context.Context, instructions, userText string) (string, error)
	Name() string
}

type LLMUsage struct {
	Calls                    int64
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// usageMeter accumulates token usage across concurrent calls.
type usageMeter struct {
	mu    sync.Mutex
	total LLMUsage
}

func (m *usageMeter) record(u LLMUsage) {
	u.Calls = 1
	m.mu.Lock()
	m.total.Add(u)
	m.mu.Unlock()
}

// Usage returns the totals since the oracle was created.
func (m *usageMeter) Usage() LLMUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// NewOracle builds the oracle selected by cfg.LLMProvider.
func NewOracle(cfg config.Config) (Oracle, error) {
	maxTokens := cfg.LLMMaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	var (
		oracle Oracle
		err    error
	)
	switch cfg.LLMProvider {
	case "anthropic", "":
		oracle = NewAnthropicOracle(cfg.AnthropicAPIKey, cfg.LLMModel, maxTokens)
	case "openai":
		oracle = NewOpenAIOracle(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMModel, maxTokens)
	case "bedrock":
		oracle, err = NewBedrockOracle(context.Background(), cfg.BedrockRegion, cfg.LLMModel, maxTokens)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("llm oracle provider=%s name=%s max_tokens=%d", cfg.LLMProvider, oracle.Name(), maxTokens)
	return oracle, nil
}

func modelOrDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
