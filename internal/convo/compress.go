package convo

import (
	"context"

	"github.com/nexuscore/reactor/pkg/core"
)

// Compress replaces the oldest eligible prefix of the transcript with a
// single synthetic system message produced by summarizer, keeping at least
// keepRecent of the most recent messages untouched.
//
// The cut point is pulled leftward, never rightward, whenever a tool-result
// in the retained suffix would otherwise be orphaned from the assistant
// message that issued its invocation. This mirrors how a transcript
// repair pass protects a call/result pair rather than aborting the whole
// operation when a naive boundary would split one.
func (m *Memory) Compress(ctx context.Context, summarizer Summarizer) error {
	m.mu.Lock()
	if len(m.messages) <= m.keepRecent {
		m.mu.Unlock()
		return nil
	}

	cut := len(m.messages) - m.keepRecent
	cut = protectInvocationPairs(m.messages, cut)
	if cut <= 0 {
		m.mu.Unlock()
		return nil
	}

	prefix := make([]core.Message, cut)
	copy(prefix, m.messages[:cut])
	m.mu.Unlock()

	summary, err := summarizer.Summarize(ctx, prefix)
	if err != nil {
		return core.NewError("convo", core.KindTransport, err).WithMessage("summarizer failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-validate the cut is still correct: nothing else mutates messages
	// concurrently (Memory is owned by exactly one session), so the prefix
	// identified above is still exactly m.messages[:cut].
	tail := make([]core.Message, len(m.messages)-cut)
	copy(tail, m.messages[cut:])

	rebuilt := make([]core.Message, 0, len(tail)+1)
	rebuilt = append(rebuilt, core.Message{Role: core.RoleSystem, Content: summary})
	rebuilt = append(rebuilt, tail...)
	m.messages = rebuilt
	return nil
}

// protectInvocationPairs walks the proposed retained suffix (messages[cut:])
// and moves cut left past any assistant message whose invocation is
// answered by a tool-result inside the suffix, so no retained snapshot ever
// contains a tool-result without its matching invocation.
func protectInvocationPairs(messages []core.Message, cut int) int {
	for {
		moved := false
		for i := cut; i < len(messages); i++ {
			if messages[i].Role != core.RoleToolResult {
				continue
			}
			owner := findOwningAssistant(messages, messages[i].InvocationID, cut)
			if owner >= 0 && owner < cut {
				cut = owner
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return cut
}

// findOwningAssistant returns the index of the assistant message (searched
// below limit) that issued invocationID, or -1 if none is found there
// (meaning it is already inside the retained suffix).
func findOwningAssistant(messages []core.Message, invocationID string, limit int) int {
	for i := limit - 1; i >= 0; i-- {
		if messages[i].Role != core.RoleAssistant {
			continue
		}
		for _, inv := range messages[i].ToolInvocations {
			if inv.InvocationID == invocationID {
				return i
			}
		}
	}
	return -1
}
