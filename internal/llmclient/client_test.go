package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nexuscore/reactor/internal/retrypolicy"
	"github.com/nexuscore/reactor/pkg/core"
	openai "github.com/sashabaranov/go-openai"
)

type fakeCompleter struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return openai.ChatCompletionResponse{}, errors.New("fakeCompleter: no more canned responses")
}

func fastPolicy() retrypolicy.Policy {
	return retrypolicy.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 1, Jitter: 0}
}

func TestAskReturnsAssistantText(t *testing.T) {
	fc := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "hello there"}}}},
	}}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})

	got, err := c.Ask(context.Background(), []core.Message{{Role: core.RoleUser, Content: "hi"}}, "be nice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("expected %q, got %q", "hello there", got)
	}
	if fc.lastReq.Messages[0].Role != openai.ChatMessageRoleSystem || fc.lastReq.Messages[0].Content != "be nice" {
		t.Fatalf("expected system preamble prepended, got %+v", fc.lastReq.Messages)
	}
}

func TestAskWithToolsReturnsInvocations(t *testing.T) {
	fc := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			ToolCalls: []openai.ToolCall{{ID: "call_1", Function: openai.FunctionCall{Name: "search", Arguments: `{"q":"go"}`}}},
		}}}},
	}}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})
	tools := []core.ToolDescriptor{{Name: "search", Description: "search the web", ParameterSchema: json.RawMessage(`{"type":"object"}`)}}

	resp, err := c.AskWithTools(context.Background(), nil, tools, core.ToolChoiceRequired)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolInvocations) != 1 || resp.ToolInvocations[0].ToolName != "search" {
		t.Fatalf("expected one search invocation, got %+v", resp.ToolInvocations)
	}
	if fc.lastReq.ToolChoice != "required" {
		t.Fatalf("expected tool_choice=required, got %v", fc.lastReq.ToolChoice)
	}
}

func TestCompleteRetriesTransientTransportError(t *testing.T) {
	fc := &fakeCompleter{
		errs: []error{errors.New("connection reset by peer"), nil},
		responses: []openai.ChatCompletionResponse{
			{}, // unused slot for the first (erroring) call
			{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "recovered"}}}},
		},
	}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})

	got, err := c.Ask(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("expected recovery after retry, got error: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("expected %q, got %q", "recovered", got)
	}
	if fc.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", fc.calls)
	}
}

func TestCompleteAuthErrorIsNotRetried(t *testing.T) {
	fc := &fakeCompleter{errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}}}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})

	_, err := c.Ask(context.Background(), nil, "")
	ce, ok := core.AsCoreError(err)
	if !ok {
		t.Fatalf("expected a *core.CoreError, got %v", err)
	}
	if ce.Kind != core.KindAuth {
		t.Fatalf("expected KindAuth, got %s", ce.Kind)
	}
	if fc.calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", fc.calls)
	}
}

func TestCompleteRateLimitExhaustsToRateLimitExhausted(t *testing.T) {
	rl := &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}
	fc := &fakeCompleter{errs: []error{rl, rl, rl}}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})

	_, err := c.Ask(context.Background(), nil, "")
	if !core.IsKind(err, core.KindRateLimitExhausted) {
		t.Fatalf("expected KindRateLimitExhausted, got %v", err)
	}
	if fc.calls != 3 {
		t.Fatalf("expected all 3 attempts to be used, got %d", fc.calls)
	}
}

func TestCompleteContextLengthIsNotRetried(t *testing.T) {
	fc := &fakeCompleter{errs: []error{&openai.APIError{HTTPStatusCode: 400, Message: "This model's maximum context length is 8192 tokens"}}}
	c := newWithCompleter(fc, Config{Retry: fastPolicy()})

	_, err := c.Ask(context.Background(), nil, "")
	if !core.IsKind(err, core.KindContextLength) {
		t.Fatalf("expected KindContextLength, got %v", err)
	}
	if fc.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", fc.calls)
	}
}

func TestCompleteRespectsContextCancellation(t *testing.T) {
	fc := &fakeCompleter{errs: []error{errors.New("boom"), errors.New("boom")}}
	c := newWithCompleter(fc, Config{Retry: retrypolicy.Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Factor: 1, Jitter: 0}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Ask(ctx, nil, "")
	if !core.IsKind(err, core.KindCancelled) {
		t.Fatalf("expected KindCancelled, got %v", err)
	}
}
