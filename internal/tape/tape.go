// Package tape provides a deterministic stand-in for the LLM Client
// collaborator, for tests that drive the Step Engine without a network
// call, replaying a fixed sequence of turns in place of real Ask and
// AskWithTools calls.
package tape

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/reactor/internal/llmclient"
	"github.com/nexuscore/reactor/pkg/core"
)

// Turn is one canned response the stub LLM will return, in order, for
// successive AskWithTools/Ask calls.
type Turn struct {
	// Content is the assistant's free-text reply for this turn.
	Content string

	// ToolInvocations are the tool calls the assistant "requests" this
	// turn. Leave empty to simulate a content-only reply.
	ToolInvocations []core.ToolInvocation

	// Err, if set, makes this turn fail instead of returning a response.
	Err error
}

// Tape is a queue of canned Turns played back in call order. It implements
// stepengine.LLM so it can be wired directly into an Engine under test.
type Tape struct {
	mu    sync.Mutex
	turns []Turn
	calls int
}

// New builds a Tape that will return turns in the given order. Calls past
// the end of turns repeat the final turn, so tests that only care about the
// first few iterations don't need to pad the slice out to max_steps.
func New(turns ...Turn) *Tape {
	return &Tape{turns: turns}
}

// Calls reports how many think calls have been served so far.
func (t *Tape) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Tape) next() (Turn, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.calls
	t.calls++
	if len(t.turns) == 0 {
		return Turn{}, idx
	}
	if idx >= len(t.turns) {
		return t.turns[len(t.turns)-1], idx
	}
	return t.turns[idx], idx
}

// AskWithTools returns the next canned turn, ignoring the messages and
// tools it was called with (a test asserting on the request should read
// them back via a Recorder wrapper instead).
func (t *Tape) AskWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, choice core.ToolChoicePolicy) (llmclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return llmclient.Response{}, core.NewError("tape", core.KindCancelled, err)
	}
	turn, idx := t.next()
	if turn.Err != nil {
		return llmclient.Response{}, fmt.Errorf("tape: turn %d: %w", idx, turn.Err)
	}
	return llmclient.Response{Content: turn.Content, ToolInvocations: turn.ToolInvocations}, nil
}

// Ask returns the next canned turn's content, discarding any tool
// invocations it carried (matching how llmclient.Client.Ask always calls
// through with ToolChoiceNone).
func (t *Tape) Ask(ctx context.Context, messages []core.Message, systemPreamble string) (string, error) {
	resp, err := t.AskWithTools(ctx, messages, nil, core.ToolChoiceNone)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Recorder wraps a Tape and captures every request it is called with, so a
// test can assert on the exact messages/tools/choice passed to a given
// think call without re-deriving them from engine internals.
type Recorder struct {
	*Tape

	mu       sync.Mutex
	requests []Request
}

// Request is one recorded AskWithTools call.
type Request struct {
	Messages []core.Message
	Tools    []core.ToolDescriptor
	Choice   core.ToolChoicePolicy
}

// NewRecorder wraps turns in a recording Tape.
func NewRecorder(turns ...Turn) *Recorder {
	return &Recorder{Tape: New(turns...)}
}

func (r *Recorder) AskWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, choice core.ToolChoicePolicy) (llmclient.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, Request{Messages: messages, Tools: tools, Choice: choice})
	r.mu.Unlock()
	return r.Tape.AskWithTools(ctx, messages, tools, choice)
}

// Requests returns every recorded call so far, in order.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	copy(out, r.requests)
	return out
}
