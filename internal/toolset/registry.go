package toolset

import (
	"fmt"
	"sync"

	"github.com/nexuscore/reactor/pkg/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds a set of tools keyed by name. It is read-only once session
// construction is complete: Register/Unregister happen before a session
// starts driving the engine; Get and Schemas are safe for concurrent
// readers thereafter.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
	cfg     DispatcherConfig
}

// DispatcherConfig holds registry-wide dispatch options. Within one
// session, Dispatch is always called once per tool invocation from a
// sequential loop; Parallelism exists so a host sharing a single registry
// across many independent sessions can bound how many of those sessions'
// Dispatch calls run concurrently against it, without reintroducing
// parallel tool execution inside a single session's turn.
type DispatcherConfig struct {
	// Parallelism is the maximum number of concurrent Dispatch calls a
	// host intends to run against this registry across sessions. It is
	// informational only: Registry does not itself schedule or limit
	// calls, since each session already serializes its own dispatch loop.
	Parallelism int
}

func (c DispatcherConfig) sanitized() DispatcherConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	return c
}

// NewRegistry returns an empty registry with default DispatcherConfig
// (Parallelism 1).
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DispatcherConfig{})
}

// NewRegistryWithConfig returns an empty registry carrying cfg, for hosts
// that want to record an intended between-session fan-out bound alongside
// the tool set itself.
func NewRegistryWithConfig(cfg DispatcherConfig) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		cfg:     cfg.sanitized(),
	}
}

// Parallelism reports the configured between-session dispatch bound.
func (r *Registry) Parallelism() int {
	return r.cfg.Parallelism
}

// Register adds a tool. Registering a name that already exists is fatal
// setup error, reported as a non-retryable KindDuplicateTool.
func (r *Registry) Register(tool Tool) error {
	desc := tool.Descriptor()
	if desc.Name == "" {
		return core.NewError("toolset", core.KindInvalidRequest, nil).WithMessage("tool descriptor has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[desc.Name]; exists {
		return core.NewError("toolset", core.KindDuplicateTool, nil).
			WithTool(desc.Name, "").
			WithMessage(fmt.Sprintf("tool %q already registered", desc.Name))
	}

	schema, err := compileSchema(desc.Name, desc.ParameterSchema)
	if err != nil {
		return core.NewError("toolset", core.KindInvalidRequest, err).
			WithTool(desc.Name, "").
			WithMessage(fmt.Sprintf("tool %q has invalid parameter schema", desc.Name))
	}

	r.tools[desc.Name] = tool
	r.schemas[desc.Name] = schema
	r.order = append(r.order, desc.Name)
	return nil
}

// Unregister removes a tool by name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// IsTerminal reports whether name is registered and marked is_terminal.
func (r *Registry) IsTerminal(name string) bool {
	t, ok := r.Get(name)
	if !ok {
		return false
	}
	return t.Descriptor().IsTerminal
}

// Schemas returns all descriptors in registration order.
func (r *Registry) Schemas() []core.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

func (r *Registry) schemaFor(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

var schemaCompileMu sync.Mutex

// compileSchema compiles a tool's parameter schema once at registration
// time so dispatch never pays parse cost per invocation.
func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = []byte(`{"type":"object"}`)
	}
	schemaCompileMu.Lock()
	defer schemaCompileMu.Unlock()
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
