// Package convo implements the Conversation Memory component: an
// append-only, role-tagged transcript with invariant checking at the write
// boundary and bounded growth via pluggable summarization.
package convo

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/reactor/pkg/core"
)

// Summarizer produces a single synthetic message summarizing a run of
// messages being evicted by compression. The Step Engine passes on the one
// its caller gave stepengine.New (reactorctl's is backed by the LLM
// Client's Ask operation); tests supply a deterministic stub.
type Summarizer interface {
	Summarize(ctx context.Context, messages []core.Message) (string, error)
}

// SummarizerFunc adapts a plain function into a Summarizer, for the common
// case of wrapping llmclient.Client.Ask with a fixed instruction.
type SummarizerFunc func(ctx context.Context, messages []core.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []core.Message) (string, error) {
	return f(ctx, messages)
}

// Memory is the ordered, mutable message log owned by exactly one session.
type Memory struct {
	mu sync.Mutex

	messages []core.Message

	// knownInvocations tracks every invocation id ever emitted in an
	// assistant message, so a tool-result message can be validated against
	// it at append time regardless of how much of the prefix has since
	// been summarized away.
	knownInvocations map[string]struct{}

	maxMessages int
	keepRecent  int
}

// New creates an empty Memory. maxMessages is the soft capacity that
// triggers Compress; keepRecent is how many of the most recent messages
// Compress leaves untouched.
func New(maxMessages, keepRecent int) *Memory {
	if keepRecent <= 0 {
		keepRecent = maxMessages
	}
	return &Memory{
		messages:         make([]core.Message, 0, 16),
		knownInvocations: make(map[string]struct{}),
		maxMessages:      maxMessages,
		keepRecent:       keepRecent,
	}
}

// Append validates and adds one message to the transcript. A tool-result
// message whose InvocationID was never issued by a prior assistant message
// is rejected.
func (m *Memory) Append(msg core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Role == core.RoleToolResult {
		if _, ok := m.knownInvocations[msg.InvocationID]; !ok {
			return core.NewError("convo", core.KindInvalidRequest, nil).
				WithMessage(fmt.Sprintf("tool-result references unknown invocation id %q", msg.InvocationID))
		}
	}
	if msg.Role == core.RoleAssistant {
		for _, inv := range msg.ToolInvocations {
			m.knownInvocations[inv.InvocationID] = struct{}{}
		}
	}

	m.messages = append(m.messages, msg)
	return nil
}

// Reset empties the transcript and forgets every known invocation id, for
// reuse by a session facade's reset_before_run / reset operations.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = m.messages[:0]
	m.knownInvocations = make(map[string]struct{})
}

// Snapshot returns an independent copy of the current transcript.
func (m *Memory) Snapshot() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len reports the current number of messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// NeedsCompression reports whether the transcript currently exceeds
// max_messages and Compress should be invoked before the next think.
func (m *Memory) NeedsCompression() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxMessages > 0 && len(m.messages) > m.maxMessages
}

// LastAssistantContent returns the content of the most recent assistant
// message, used by the Step Engine's stuck detector.
func (m *Memory) LastAssistantContent() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == core.RoleAssistant {
			return m.messages[i].Content, true
		}
	}
	return "", false
}
