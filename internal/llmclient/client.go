// Package llmclient implements the Step Engine's LLM Client collaborator:
// Ask and AskWithTools over an OpenAI-compatible chat-completions wire
// format, with bounded retry and a closed error taxonomy.
package llmclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nexuscore/reactor/internal/retrypolicy"
	"github.com/nexuscore/reactor/pkg/core"
	openai "github.com/sashabaranov/go-openai"
)

// completer is the subset of *openai.Client this package depends on. Tests
// substitute a fake to avoid any network call.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a Client.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Retry       retrypolicy.Policy
	Logger      *slog.Logger

	// Transport is the round-tripper the client issues requests through.
	// Defaults to http.DefaultTransport if nil.
	Transport http.RoundTripper

	// RequestTimeout bounds a single completion call, including retries'
	// individual attempts. Zero means no per-request timeout is applied
	// beyond whatever the caller's context already carries.
	RequestTimeout time.Duration
}

func (c Config) sanitized() Config {
	if c.Model == "" {
		c.Model = openai.GPT4o
	}
	if c.Retry == (retrypolicy.Policy{}) {
		c.Retry = retrypolicy.DefaultPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	return c
}

// Client is a thin, retrying wrapper around an OpenAI-compatible
// completions endpoint.
type Client struct {
	api completer
	cfg Config
}

// New constructs a Client against the real OpenAI (or OpenAI-compatible,
// via baseURL) endpoint.
func New(apiKey, baseURL string, cfg Config) *Client {
	cfg = cfg.sanitized()
	oaiCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oaiCfg.BaseURL = baseURL
	}
	oaiCfg.HTTPClient = &http.Client{
		Transport: cfg.Transport,
		Timeout:   cfg.RequestTimeout,
	}
	return &Client{api: openai.NewClientWithConfig(oaiCfg), cfg: cfg}
}

// newWithCompleter is used by tests to inject a fake completer.
func newWithCompleter(api completer, cfg Config) *Client {
	return &Client{api: api, cfg: cfg.sanitized()}
}

// Response is the LLM's answer for one turn: free text plus zero or more
// tool invocations it would like executed.
type Response struct {
	Content         string
	ToolInvocations []core.ToolInvocation
}

// Ask sends messages with no tools available and returns the assistant's
// text reply. It shares AskWithTools' request and retry path, with an empty
// tool set, ToolChoiceNone, and systemPreamble (if non-empty) prepended as
// a system message.
func (c *Client) Ask(ctx context.Context, messages []core.Message, systemPreamble string) (string, error) {
	resp, err := c.complete(ctx, messages, systemPreamble, nil, core.ToolChoiceNone)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// AskWithTools sends messages alongside tool descriptors and a tool-choice
// policy, and returns the assistant's reply including any requested tool
// invocations.
func (c *Client) AskWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, choice core.ToolChoicePolicy) (Response, error) {
	return c.complete(ctx, messages, "", tools, choice)
}

func (c *Client) complete(ctx context.Context, messages []core.Message, systemPreamble string, tools []core.ToolDescriptor, choice core.ToolChoicePolicy) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    toOpenAIMessages(messages, systemPreamble),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = toOpenAIToolChoice(choice)
	}

	policy := c.cfg.Retry
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Response{}, core.NewError("llmclient", core.KindCancelled, ctx.Err()).WithAttempts(attempt)
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			return fromOpenAIResponse(resp), nil
		}
		lastErr = err

		kind, rateLimited := classify(err)
		if !kind.IsRetryable() {
			return Response{}, core.NewError("llmclient", kind, err).WithAttempts(attempt)
		}
		if attempt == policy.MaxAttempts {
			final := kind
			if rateLimited {
				final = core.KindRateLimitExhausted
			}
			return Response{}, core.NewError("llmclient", final, err).WithAttempts(attempt)
		}

		c.cfg.Logger.Warn("llmclient: retrying after transient failure",
			"attempt", attempt, "kind", string(kind), "error", err)

		delay := retrypolicy.NextDelay(policy, attempt)
		select {
		case <-ctx.Done():
			return Response{}, core.NewError("llmclient", core.KindCancelled, ctx.Err()).WithAttempts(attempt)
		case <-time.After(delay):
		}
	}
	return Response{}, core.NewError("llmclient", core.KindTransport, lastErr).WithAttempts(policy.MaxAttempts)
}
