package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexuscore/reactor/pkg/core"
)

// Dispatch runs a fixed sequence: lookup, decode, validate, execute, frame.
// It never returns a Go error; every failure mode is folded into the
// returned core.ToolResult so the Step Engine can always append exactly
// one tool-result Message per invocation.
func (r *Registry) Dispatch(ctx context.Context, name string, invocationID string, rawArguments json.RawMessage) core.ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return errored(core.NewError("toolset", core.KindUnknownTool, nil).
			WithTool(name, invocationID).
			WithMessage(fmt.Sprintf("unknown tool: %s", name)))
	}

	if len(rawArguments) == 0 {
		rawArguments = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(rawArguments, &decoded); err != nil {
		return errored(core.NewError("toolset", core.KindMalformedArguments, err).
			WithTool(name, invocationID).
			WithRaw(string(rawArguments)).
			WithMessage("arguments are not valid JSON"))
	}

	if schema, ok := r.schemaFor(name); ok && schema != nil {
		if err := schema.Validate(decoded); err != nil {
			return errored(core.NewError("toolset", core.KindInvalidArguments, err).
				WithTool(name, invocationID).
				WithRaw(string(rawArguments)).
				WithMessage("arguments do not satisfy the tool's parameter schema"))
		}
	}

	output, err := executeGuarded(ctx, tool, rawArguments)
	if err != nil {
		kind := core.KindToolExecution
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = core.KindToolTimeout
		}
		return errored(core.NewError("toolset", kind, err).
			WithTool(name, invocationID).
			WithMessage(err.Error()))
	}

	return core.ToolResult{Output: output, Observed: true}
}

// executeGuarded runs a tool's Execute and converts a panic into an error so
// property 8 (tool error containment) holds regardless of how badly a tool
// implementation misbehaves.
func executeGuarded(ctx context.Context, tool Tool, arguments json.RawMessage) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return tool.Execute(ctx, arguments)
}

func errored(ce *core.CoreError) core.ToolResult {
	return core.ToolResult{
		Output:   fmt.Sprintf("Error (%s): %s", ce.Kind, ce.Error()),
		Observed: true,
		Err:      ce,
	}
}
