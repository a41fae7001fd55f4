// Package toolset implements the Tool Registry & Dispatcher: a thread-safe
// registry of named tools, each with a JSON-schema-described parameter
// contract, plus sequential dispatch that decodes, validates, executes, and
// frames results as core.ToolResult values.
package toolset

import (
	"context"
	"encoding/json"

	"github.com/nexuscore/reactor/pkg/core"
)

// Tool is the contract every registered tool implements: static metadata
// plus an executor over already-schema-validated arguments.
type Tool interface {
	Descriptor() core.ToolDescriptor
	Execute(ctx context.Context, arguments json.RawMessage) (string, error)
}

// Func adapts a plain function into a Tool, for tools with no state beyond
// their descriptor.
type Func struct {
	descriptor core.ToolDescriptor
	fn         func(ctx context.Context, arguments json.RawMessage) (string, error)
}

// NewFunc builds a Tool from a descriptor and an execute function.
func NewFunc(descriptor core.ToolDescriptor, fn func(ctx context.Context, arguments json.RawMessage) (string, error)) Func {
	return Func{descriptor: descriptor, fn: fn}
}

func (f Func) Descriptor() core.ToolDescriptor { return f.descriptor }

func (f Func) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	return f.fn(ctx, arguments)
}
