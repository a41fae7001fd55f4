// Package stepengine implements the Step Engine: the think/act state
// machine that composes the LLM Client, Tool Registry, and Conversation
// Memory into a single agentic run.
package stepengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nexuscore/reactor/internal/convo"
	"github.com/nexuscore/reactor/internal/llmclient"
	"github.com/nexuscore/reactor/internal/obs"
	"github.com/nexuscore/reactor/pkg/core"
)

// LLM is the think-call collaborator. It is satisfied by *llmclient.Client;
// tests substitute a deterministic stub.
type LLM interface {
	AskWithTools(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, choice core.ToolChoicePolicy) (llmclient.Response, error)
	Ask(ctx context.Context, messages []core.Message, systemPreamble string) (string, error)
}

// Dispatcher is the act-call collaborator. It is satisfied by
// *toolset.Registry.
type Dispatcher interface {
	Schemas() []core.ToolDescriptor
	Dispatch(ctx context.Context, name, invocationID string, rawArguments json.RawMessage) core.ToolResult
	IsTerminal(name string) bool
}

// Memory is the transcript collaborator. It is satisfied by *convo.Memory.
type Memory interface {
	Append(msg core.Message) error
	Snapshot() []core.Message
	NeedsCompression() bool
	Compress(ctx context.Context, summarizer convo.Summarizer) error
	LastAssistantContent() (string, bool)
}

// Outcome summarizes one Run call: a per-step log entry for the Session
// Facade to concatenate, plus the terminal state reached.
type Outcome struct {
	StepSummaries []string
	State         core.EngineState
	Cancelled     bool
}

// Engine drives one session's think/act loop and owns the EngineState
// machine. It is not safe for concurrent Run calls; a session owns
// exactly one engine.
type Engine struct {
	mu sync.Mutex

	state  core.EngineState
	cfg    Config
	llm    LLM
	reg    Dispatcher
	mem    Memory
	sum    convo.Summarizer
	sink   obs.EventSink

	currentStep int

	haveLastAssistant   bool
	lastAssistantText   string
	duplicateStreak     int
	interventionArmed   bool

	requiredToolRetried    bool
	requiredToolReminderOn bool
}

// New constructs an Idle Engine.
func New(llm LLM, reg Dispatcher, mem Memory, sum convo.Summarizer, sink obs.EventSink, cfg Config) *Engine {
	if sink == nil {
		sink = obs.NoopSink{}
	}
	return &Engine{
		state: core.StateIdle,
		cfg:   cfg.sanitized(),
		llm:   llm,
		reg:   reg,
		mem:   mem,
		sum:   sum,
		sink:  sink,
	}
}

// State returns the engine's current state.
func (e *Engine) State() core.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset clears per-run counters and forces Idle, for reuse after Errored
// without requiring a fresh Engine value.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = core.StateIdle
	e.currentStep = 0
	e.haveLastAssistant = false
	e.lastAssistantText = ""
	e.duplicateStreak = 0
	e.interventionArmed = false
	e.requiredToolRetried = false
	e.requiredToolReminderOn = false
}

// Run drives iterations until a terminal state is reached, then returns the
// engine to Idle so it may be re-invoked. The transcript must already
// contain the user's request; the Session Facade is responsible for
// appending it before calling Run.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	if e.state != core.StateIdle {
		e.mu.Unlock()
		return Outcome{}, core.NewError("stepengine", core.KindInvalidRequest, nil).
			WithMessage("Run called while engine is not Idle")
	}
	e.state = core.StateRunning
	e.currentStep = 0
	e.haveLastAssistant = false
	e.duplicateStreak = 0
	e.interventionArmed = false
	e.requiredToolRetried = false
	e.requiredToolReminderOn = false
	e.mu.Unlock()

	var summaries []string
	var runErr error
	cancelled := false

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		summary, done, err := e.iterate(ctx)
		if summary != "" {
			summaries = append(summaries, summary)
		}
		if err != nil {
			if core.IsKind(err, core.KindCancelled) {
				cancelled = true
				break
			}
			runErr = err
			break
		}
		if done {
			break
		}
	}

	e.mu.Lock()
	finalState := core.StateFinished
	if runErr != nil {
		finalState = core.StateErrored
	}
	e.state = finalState
	outcome := Outcome{StepSummaries: summaries, State: finalState, Cancelled: cancelled}
	e.state = core.StateIdle
	e.mu.Unlock()

	return outcome, runErr
}

// iterate runs exactly one think, and if warranted, one act. It returns
// the step's summary text, whether the engine should stop, and a non-nil
// error only for engine-level (not tool-level) failures.
func (e *Engine) iterate(ctx context.Context) (string, bool, error) {
	e.currentStep++
	stepNo := e.currentStep

	if e.mem.NeedsCompression() {
		if err := e.mem.Compress(ctx, e.sum); err != nil {
			return "", true, err
		}
	}

	prompt := e.nextStepPrompt()
	snapshot := e.mem.Snapshot()
	thinkInput := make([]core.Message, len(snapshot)+1)
	copy(thinkInput, snapshot)
	thinkInput[len(snapshot)] = core.Message{Role: core.RoleUser, Content: prompt}

	resp, err := e.llm.AskWithTools(ctx, thinkInput, e.reg.Schemas(), e.cfg.ToolChoicePolicy)
	if err != nil {
		e.emit(stepNo, "think", "", nil, nil)
		return "", true, err
	}

	assistantMsg := core.Message{Role: core.RoleAssistant, Content: resp.Content, ToolInvocations: resp.ToolInvocations}
	if err := e.mem.Append(assistantMsg); err != nil {
		return "", true, err
	}
	e.trackDuplicate(assistantMsg.Content)

	summary := fmt.Sprintf("step %d: think: %s", stepNo, truncate(resp.Content, 80))

	switch e.cfg.ToolChoicePolicy {
	case core.ToolChoiceNone:
		e.emit(stepNo, "think", resp.Content, nil, nil)
		return summary, true, nil

	case core.ToolChoiceRequired:
		if len(resp.ToolInvocations) == 0 {
			e.emit(stepNo, "think", resp.Content, nil, nil)
			if !e.requiredToolRetried {
				e.requiredToolRetried = true
				e.requiredToolReminderOn = true
				return summary, e.checkStepLimit(), nil
			}
			return summary, true, core.NewError("stepengine", core.KindRequiredToolMissing, nil).
				WithMessage("required tool call missing on repeated occurrence").
				WithAttempts(2)
		}
	}

	if len(resp.ToolInvocations) == 0 {
		e.emit(stepNo, "think", resp.Content, nil, nil)
		if resp.Content == "" {
			return summary, true, nil
		}
		return summary, e.checkStepLimit(), nil
	}

	names := make([]string, 0, len(resp.ToolInvocations))
	results := make([]string, 0, len(resp.ToolInvocations))
	terminalHit := false
	for _, inv := range resp.ToolInvocations {
		res := e.reg.Dispatch(ctx, inv.ToolName, inv.InvocationID, inv.Arguments)
		names = append(names, inv.ToolName)
		results = append(results, res.Output)

		resultMsg := core.Message{
			Role:         core.RoleToolResult,
			InvocationID: inv.InvocationID,
			ToolName:     inv.ToolName,
			Result:       res,
		}
		if err := e.mem.Append(resultMsg); err != nil {
			return summary, true, err
		}
		if e.reg.IsTerminal(inv.ToolName) && !res.IsError() {
			terminalHit = true
		}
	}

	e.emit(stepNo, "act", resp.Content, names, results)

	if terminalHit {
		return summary, true, nil
	}
	return summary, e.checkStepLimit(), nil
}

// checkStepLimit implements algorithm step 6: hitting max_steps always
// Finishes, recording a synthetic assistant message.
func (e *Engine) checkStepLimit() bool {
	if e.currentStep < e.cfg.MaxSteps {
		return false
	}
	msg := core.Message{
		Role:    core.RoleAssistant,
		Content: fmt.Sprintf("Reached maximum steps limit (%d)", e.cfg.MaxSteps),
	}
	_ = e.mem.Append(msg)
	return true
}

// nextStepPrompt composes this iteration's transient prompt, applying any
// one-shot intervention or required-tool reminder armed by the previous
// iteration, then clearing the flag so it fires exactly once.
func (e *Engine) nextStepPrompt() string {
	prompt := e.cfg.NextStepPrompt
	if e.requiredToolReminderOn {
		prompt = requiredToolReminder + " " + prompt
		e.requiredToolReminderOn = false
	}
	if e.interventionArmed {
		prompt = interventionNotice + " " + prompt
		e.interventionArmed = false
	}
	return prompt
}

// trackDuplicate implements the stuck-loop detector: a run of
// duplicate_threshold consecutive identical assistant contents arms a
// single intervention notice for the following iteration.
func (e *Engine) trackDuplicate(content string) {
	if e.haveLastAssistant && e.lastAssistantText == content {
		e.duplicateStreak++
	} else {
		e.duplicateStreak = 1
	}
	e.haveLastAssistant = true
	e.lastAssistantText = content

	if e.duplicateStreak == e.cfg.DuplicateThreshold {
		e.interventionArmed = true
	}
}

func (e *Engine) emit(stepNo int, phase, content string, toolCalls, toolResults []string) {
	e.sink.Emit(obs.StepEvent{
		StepNo:         stepNo,
		Phase:          phase,
		ContentSummary: truncate(content, 120),
		ToolCalls:      toolCalls,
		ToolResults:    toolResults,
		StateAfter:     e.State(),
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
