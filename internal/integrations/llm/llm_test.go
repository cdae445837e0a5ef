package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openaioption "github.com/openai/openai-go/v3/option"

	"feedbackintel/internal/config"
)

func TestLLMUsageAdd(t *testing.T) {
	u := LLMUsage{InputTokens: 10, OutputTokens: 2}
	u.Add(LLMUsage{Calls: 1, InputTokens: 5, OutputTokens: 3, CacheReadInputTokens: 7})
	if u.TotalTokens() != 20 || u.Calls != 1 || u.CacheReadInputTokens != 7 {
		t.Fatalf("unexpected usage after Add: %+v", u)
	}
}

func TestUsageMeterConcurrent(t *testing.T) {
	var m usageMeter
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.record(LLMUsage{InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()
	if got := m.Usage(); got.Calls != 20 || got.TotalTokens() != 40 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestAnthropicOracleRun(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"theme\":\"bugs\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	o := NewAnthropicOracle("test-key", "claude-test", 256,
		anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	reply, err := o.Run(context.Background(), "classify", "The app crashes")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reply != `{"theme":"bugs"}` {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotBody["model"] != "claude-test" {
		t.Fatalf("unexpected model in request: %v", gotBody["model"])
	}
	if u := o.Usage(); u.Calls != 1 || u.InputTokens != 12 || u.OutputTokens != 4 {
		t.Fatalf("unexpected usage: %+v", u)
	}
	if o.Name() != "anthropic/claude-test" {
		t.Fatalf("unexpected name %q", o.Name())
	}
}

func TestAnthropicOracleServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	o := NewAnthropicOracle("test-key", "", 256,
		anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	if _, err := o.Run(context.Background(), "classify", "x"); err == nil {
		t.Fatal("expected error from failing server")
	}
	if o.Usage().Calls != 0 {
		t.Fatal("failed calls must not be metered")
	}
	if o.Name() != "anthropic/"+defaultAnthropicModel {
		t.Fatalf("expected default model, got %q", o.Name())
	}
}

func TestOpenAIOracleRun(t *testing.T) {
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Messages []json.RawMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMessages = len(req.Messages)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "llama",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Sure: {\"urgency\": 4}"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 6, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	o := NewOpenAIOracle("test-key", srv.URL+"/", "llama", 256, openaioption.WithMaxRetries(0))
	reply, err := o.Run(context.Background(), "classify", "Billing page is confusing.")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reply != `Sure: {"urgency": 4}` {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotMessages != 2 {
		t.Fatalf("expected system and user messages, got %d", gotMessages)
	}
	if u := o.Usage(); u.InputTokens != 9 || u.OutputTokens != 6 {
		t.Fatalf("unexpected usage: %+v", u)
	}
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockOracleRun(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"{\"sentiment\":\"Negative\"}"}],"usage":{"input_tokens":3,"output_tokens":2}}`}
	o := &BedrockOracle{client: inv, model: defaultBedrockModel, maxTokens: 128}

	reply, err := o.Run(context.Background(), "classify", "FaceID is broken.")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reply != `{"sentiment":"Negative"}` {
		t.Fatalf("unexpected reply %q", reply)
	}

	var req bedrockRequest
	if err := json.Unmarshal(inv.input.Body, &req); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if req.AnthropicVersion != "bedrock-2023-05-31" || req.System != "classify" || req.MaxTokens != 128 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "FaceID is broken." {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if *inv.input.ModelId != defaultBedrockModel {
		t.Fatalf("unexpected model id %q", *inv.input.ModelId)
	}
	if o.Usage().TotalTokens() != 5 {
		t.Fatalf("unexpected usage: %+v", o.Usage())
	}
}

func TestBedrockOracleEmptyContent(t *testing.T) {
	o := &BedrockOracle{client: &fakeInvoker{body: `{"content":[]}`}, model: "m", maxTokens: 64}
	reply, err := o.Run(context.Background(), "i", "u")
	if err != nil || reply != "" {
		t.Fatalf("empty content should be an empty reply, got %q, %v", reply, err)
	}
}

func TestAnthropicOracleNoTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_2", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [],
			"stop_reason": "max_tokens",
			"usage": {"input_tokens": 5, "output_tokens": 0}
		}`)
	}))
	defer srv.Close()

	o := NewAnthropicOracle("test-key", "claude-test", 256,
		anthropicoption.WithBaseURL(srv.URL), anthropicoption.WithMaxRetries(0))
	reply, err := o.Run(context.Background(), "classify", "x")
	if err != nil || reply != "" {
		t.Fatalf("expected empty reply without error, got %q, %v", reply, err)
	}
	if o.Usage().Calls != 1 {
		t.Fatalf("answered call should be metered: %+v", o.Usage())
	}
}

func TestOpenAIOracleNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "llama",
			"choices": [],
			"usage": {"prompt_tokens": 4, "completion_tokens": 0, "total_tokens": 4}
		}`)
	}))
	defer srv.Close()

	o := NewOpenAIOracle("test-key", srv.URL, "llama", 256, openaioption.WithMaxRetries(0))
	reply, err := o.Run(context.Background(), "classify", "x")
	if err != nil || reply != "" {
		t.Fatalf("expected empty reply without error, got %q, %v", reply, err)
	}
}

func TestNewOracleSelectsProvider(t *testing.T) {
	o, err := NewOracle(config.Config{LLMProvider: "openai", OpenAIAPIKey: "k", LLMModel: "gpt-test"})
	if err != nil {
		t.Fatalf("NewOracle returned error: %v", err)
	}
	if _, ok := o.(*OpenAIOracle); !ok || o.Name() != "openai/gpt-test" {
		t.Fatalf("unexpected oracle %T %q", o, o.Name())
	}

	o, err = NewOracle(config.Config{LLMProvider: "anthropic", AnthropicAPIKey: "k"})
	if err != nil {
		t.Fatalf("NewOracle returned error: %v", err)
	}
	if _, ok := o.(*AnthropicOracle); !ok {
		t.Fatalf("unexpected oracle %T", o)
	}

	if _, err := NewOracle(config.Config{LLMProvider: "cohere"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
