package llmclient

import (
	"encoding/json"

	"github.com/nexuscore/reactor/pkg/core"
	openai "github.com/sashabaranov/go-openai"
)

// toOpenAIMessages converts a transcript plus an optional system preamble
// into the OpenAI wire format. Tool-result messages become standalone
// "tool" role messages keyed by InvocationID, one message per ToolResult.
func toOpenAIMessages(messages []core.Message, systemPreamble string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPreamble != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPreamble,
		})
	}

	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case core.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case core.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, inv := range m.ToolInvocations {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   inv.InvocationID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      inv.ToolName,
						Arguments: string(inv.Arguments),
					},
				})
			}
			out = append(out, msg)
		case core.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Result.Output,
				ToolCallID: m.InvocationID,
			})
		}
	}
	return out
}

// toOpenAITools converts tool descriptors into OpenAI function-tool
// definitions, parsing each JSON Schema into the map the library expects.
func toOpenAITools(tools []core.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.ParameterSchema) > 0 {
			if err := json.Unmarshal(t.ParameterSchema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// toOpenAIToolChoice maps the engine's tool-choice policy onto the wire
// values the chat-completions endpoint accepts: "none", "auto", or
// "required".
func toOpenAIToolChoice(choice core.ToolChoicePolicy) any {
	switch choice {
	case core.ToolChoiceNone:
		return "none"
	case core.ToolChoiceRequired:
		return "required"
	default:
		return "auto"
	}
}

// fromOpenAIResponse extracts the first choice's content and tool calls.
func fromOpenAIResponse(resp openai.ChatCompletionResponse) Response {
	if len(resp.Choices) == 0 {
		return Response{}
	}
	msg := resp.Choices[0].Message

	out := Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolInvocations = append(out.ToolInvocations, core.ToolInvocation{
			InvocationID: tc.ID,
			ToolName:     tc.Function.Name,
			Arguments:    json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
