// Package session implements the Session Facade: the single public entry
// point a host calls to drive one user request to completion, composing
// the Step Engine, Memory, and the error taxonomy.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/nexuscore/reactor/internal/stepengine"
	"github.com/nexuscore/reactor/pkg/core"
)

// Memory is the facade's transcript collaborator. *convo.Memory satisfies
// it; tests may substitute a stub.
type Memory interface {
	Append(msg core.Message) error
	Reset()
}

// Engine is the facade's think/act collaborator. *stepengine.Engine
// satisfies it.
type Engine interface {
	Run(ctx context.Context) (stepengine.Outcome, error)
	Reset()
	State() core.EngineState
}

// Config holds the session-level options the facade itself consumes;
// everything else is already bound into Memory and Engine at construction
// time.
type Config struct {
	// ResetBeforeRun clears memory and engine state at the start of every
	// Run call.
	ResetBeforeRun bool
}

// Session is the sole public entry point a host integrates against:
// new_session / session.run / session.reset.
type Session struct {
	mu  sync.Mutex
	mem Memory
	eng Engine
	cfg Config
}

// New constructs a Session over an already-wired Memory and Engine. The
// registry and LLM client are bound into eng by the caller at
// stepengine.New time, one level down from the new_session(config,
// registry, llm_client) surface a host sees.
func New(mem Memory, eng Engine, cfg Config) *Session {
	return &Session{mem: mem, eng: eng, cfg: cfg}
}

// Run appends request to memory as a user Message, drives the Step Engine
// to a terminal state, and returns the concatenated per-step summary. If
// the engine entered Errored, the underlying error is returned alongside
// whatever transcript summary was produced before the failure: the
// transcript itself remains readable via the Memory the caller retains a
// reference to.
func (s *Session) Run(ctx context.Context, request string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ResetBeforeRun {
		s.mem.Reset()
		s.eng.Reset()
	}

	if err := s.mem.Append(core.Message{Role: core.RoleUser, Content: request}); err != nil {
		return "", err
	}

	outcome, err := s.eng.Run(ctx)
	summary := strings.Join(outcome.StepSummaries, "\n")
	if err != nil {
		return summary, translate(err)
	}
	return summary, nil
}

// Reset empties memory and engine state while preserving config and
// registry.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Reset()
	s.eng.Reset()
}

// State reports the engine's current state, mainly useful for hosts
// polling between Run calls or after an Errored/Cancelled outcome.
func (s *Session) State() core.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng.State()
}

// translate maps an engine-level error onto the closed CoreError taxonomy.
// An error that already is (or wraps) a *core.CoreError passes through
// unchanged; any other error is wrapped as KindTransport. It exists as a
// single seam: a host wrapping Session in its own error type does so here,
// not scattered through the engine.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := core.AsCoreError(err); ok {
		return err
	}
	return core.NewError("session", core.KindTransport, err).WithMessage("uncaught engine error")
}
