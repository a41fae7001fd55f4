package stepengine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexuscore/reactor/internal/convo"
	"github.com/nexuscore/reactor/internal/obs"
	"github.com/nexuscore/reactor/internal/tape"
	"github.com/nexuscore/reactor/internal/toolset"
	"github.com/nexuscore/reactor/pkg/core"
)

// echoTool returns its "text" argument verbatim.
type echoTool struct{}

func (echoTool) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:            "echo",
		Description:     "echoes the text argument back",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func (echoTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", err
	}
	return args.Text, nil
}

// finishTool takes no arguments and is marked terminal.
type finishTool struct{}

func (finishTool) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{Name: "finish", Description: "ends the session", IsTerminal: true}
}

func (finishTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	return "", nil
}

func newRegistry(t *testing.T) *toolset.Registry {
	t.Helper()
	reg := toolset.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	if err := reg.Register(finishTool{}); err != nil {
		t.Fatalf("register finish: %v", err)
	}
	return reg
}

func echoInvocation(id, text string) core.ToolInvocation {
	raw, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return core.ToolInvocation{InvocationID: id, ToolName: "echo", Arguments: raw}
}

func finishInvocation(id string) core.ToolInvocation {
	return core.ToolInvocation{InvocationID: id, ToolName: "finish", Arguments: json.RawMessage(`{}`)}
}

func newMemoryWithUserRequest(t *testing.T, request string) *convo.Memory {
	t.Helper()
	mem := convo.New(1000, 1000)
	if err := mem.Append(core.Message{Role: core.RoleUser, Content: request}); err != nil {
		t.Fatalf("append user request: %v", err)
	}
	return mem
}

// S1 — Simple completion.
func TestScenarioS1SimpleCompletion(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "say hello then finish")
	llm := tape.New(
		tape.Turn{Content: "ok", ToolInvocations: []core.ToolInvocation{echoInvocation("call_1", "hello")}},
		tape.Turn{Content: "", ToolInvocations: []core.ToolInvocation{finishInvocation("call_2")}},
	)
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished, got %s", outcome.State)
	}
	if len(outcome.StepSummaries) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(outcome.StepSummaries))
	}

	snap := mem.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(snap), snap)
	}
	wantRoles := []core.Role{core.RoleUser, core.RoleAssistant, core.RoleToolResult, core.RoleAssistant, core.RoleToolResult}
	for i, want := range wantRoles {
		if snap[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, snap[i].Role)
		}
	}
	if snap[2].Result.Output != "hello" {
		t.Fatalf("expected tool-result %q, got %q", "hello", snap[2].Result.Output)
	}
	if snap[4].Result.Output != "" {
		t.Fatalf("expected empty finish output, got %q", snap[4].Result.Output)
	}
}

// Auto + no tool invocations + empty content must finish immediately
// rather than continue toward max_steps, unlike the non-empty-content
// case exercised by S3/S5.
func TestAutoEmptyContentNoInvocationsFinishesImmediately(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "say nothing")
	llm := tape.New(tape.Turn{Content: ""})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, MaxSteps: 10})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished, got %s", outcome.State)
	}
	if len(outcome.StepSummaries) != 1 {
		t.Fatalf("expected exactly 1 step, got %d", len(outcome.StepSummaries))
	}

	snap := mem.Snapshot()
	last := snap[len(snap)-1]
	if last.Role != core.RoleAssistant || last.Content != "" {
		t.Fatalf("expected the transcript to end on the empty assistant reply, got %+v", last)
	}
}

// S2 — Required-tool retry then failure.
func TestScenarioS2RequiredToolMissing(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "do something")
	llm := tape.New(
		tape.Turn{Content: "thinking"},
		tape.Turn{Content: "still thinking"},
	)
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceRequired, MaxSteps: 10})

	outcome, err := eng.Run(context.Background())
	if !core.IsKind(err, core.KindRequiredToolMissing) {
		t.Fatalf("expected KindRequiredToolMissing, got %v", err)
	}
	if outcome.State != core.StateErrored {
		t.Fatalf("expected Errored, got %s", outcome.State)
	}
	if len(outcome.StepSummaries) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(outcome.StepSummaries))
	}
}

// S3 — Stuck loop intervention: the engine continues past duplicate
// content (it only terminates via a terminal tool or the step bound, per
// S5), so the only externally observable effect of the duplicate streak is
// the one-shot intervention notice prepended to the next think prompt.
func TestScenarioS3StuckLoopIntervention(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "loop forever")
	rec := tape.NewRecorder(tape.Turn{Content: "thinking…"})
	eng := New(rec, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, DuplicateThreshold: 2, MaxSteps: 4})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished at step limit, got %s", outcome.State)
	}

	reqs := rec.Requests()
	if len(reqs) != 4 {
		t.Fatalf("expected 4 think calls, got %d", len(reqs))
	}
	// Duplicate streak reaches threshold (2) after turn 2's identical
	// content, arming the notice for turn 3's prompt; it must not recur on
	// turn 4 since the intervention fires exactly once per streak.
	// The transient prompt is passed as the final element of Messages by
	// the engine's think step (appended, not persisted).
	turn3Prompt := reqs[2].Messages[len(reqs[2].Messages)-1].Content
	turn4Prompt := reqs[3].Messages[len(reqs[3].Messages)-1].Content
	if !strings.Contains(turn3Prompt, "Duplicate responses observed") {
		t.Fatalf("expected intervention notice in turn 3 prompt, got %q", turn3Prompt)
	}
	if strings.Contains(turn4Prompt, "Duplicate responses observed") {
		t.Fatalf("expected intervention notice to fire once, still present in turn 4 prompt %q", turn4Prompt)
	}
}

// S4 — Malformed arguments recovery.
func TestScenarioS4MalformedArgumentsRecovery(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "call echo badly")
	badInvocation := core.ToolInvocation{InvocationID: "call_1", ToolName: "echo", Arguments: json.RawMessage(`{not json`)}
	llm := tape.New(
		tape.Turn{Content: "", ToolInvocations: []core.ToolInvocation{badInvocation}},
		tape.Turn{Content: "", ToolInvocations: []core.ToolInvocation{finishInvocation("call_2")}},
	)
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, MaxSteps: 10})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished, got %s", outcome.State)
	}

	snap := mem.Snapshot()
	toolResult := snap[2]
	if toolResult.Role != core.RoleToolResult {
		t.Fatalf("expected tool-result at index 2, got %s", toolResult.Role)
	}
	if !strings.HasPrefix(toolResult.Result.Output, "Error") {
		t.Fatalf("expected output to begin with Error, got %q", toolResult.Result.Output)
	}
	if !core.IsKind(errOf(toolResult.Result), core.KindMalformedArguments) {
		t.Fatalf("expected KindMalformedArguments, got %+v", toolResult.Result.Err)
	}
	if len(outcome.StepSummaries) != 2 {
		t.Fatalf("expected engine to continue to turn 2, got %d steps", len(outcome.StepSummaries))
	}
}

func errOf(r core.ToolResult) error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// S5 — Step-limit termination.
func TestScenarioS5StepLimitTermination(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "never stop talking")
	llm := tape.New(tape.Turn{Content: "still working"})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, MaxSteps: 3})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished, got %s", outcome.State)
	}

	snap := mem.Snapshot()
	assistantCount := 0
	for _, m := range snap {
		if m.Role == core.RoleAssistant {
			assistantCount++
		}
	}
	// Three regular assistant turns plus the synthetic step-limit message.
	if assistantCount != 4 {
		t.Fatalf("expected 4 assistant messages (3 turns + synthetic), got %d", assistantCount)
	}
	last := snap[len(snap)-1]
	if last.Content != "Reached maximum steps limit (3)" {
		t.Fatalf("unexpected final message: %q", last.Content)
	}
}

// S6 — Terminal-tool with peer invocations.
func TestScenarioS6TerminalToolWithPeers(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "do three things")
	llm := tape.New(tape.Turn{
		Content: "",
		ToolInvocations: []core.ToolInvocation{
			echoInvocation("call_1", "a"),
			finishInvocation("call_2"),
			echoInvocation("call_3", "b"),
		},
	})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, MaxSteps: 10})

	outcome, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished, got %s", outcome.State)
	}
	if len(outcome.StepSummaries) != 1 {
		t.Fatalf("expected exactly 1 step, got %d", len(outcome.StepSummaries))
	}

	snap := mem.Snapshot()
	// user, assistant, 3 tool-results.
	if len(snap) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(snap))
	}
	wantOutputs := []string{"a", "", "b"}
	wantTools := []string{"echo", "finish", "echo"}
	for i, want := range wantOutputs {
		msg := snap[2+i]
		if msg.Role != core.RoleToolResult {
			t.Fatalf("message %d: expected tool-result, got %s", 2+i, msg.Role)
		}
		if msg.ToolName != wantTools[i] {
			t.Fatalf("message %d: expected tool %s, got %s", 2+i, wantTools[i], msg.ToolName)
		}
		if msg.Result.Output != want {
			t.Fatalf("message %d: expected output %q, got %q", 2+i, want, msg.Result.Output)
		}
	}
}

func TestTransientPromptNeverPersistedToMemory(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "hello")
	before := mem.Len()
	llm := tape.New(tape.Turn{Content: "", ToolInvocations: []core.ToolInvocation{finishInvocation("call_1")}})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto})

	if _, err := eng.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// user + assistant + tool-result; never the transient prompt.
	if got := mem.Len(); got != before+2 {
		t.Fatalf("expected exactly 2 new messages beyond the user request, got %d new", got-before)
	}
}

func TestRunStopsCleanlyOnCancellation(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "hello")
	llm := tape.New(tape.Turn{Content: "still working"})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{ToolChoicePolicy: core.ToolChoiceAuto, MaxSteps: 50})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("expected a clean stop, not an error: %v", err)
	}
	if !outcome.Cancelled {
		t.Fatal("expected outcome to be marked Cancelled")
	}
	if outcome.State != core.StateFinished {
		t.Fatalf("expected Finished on cancellation, got %s", outcome.State)
	}
	if len(outcome.StepSummaries) != 0 {
		t.Fatalf("expected no steps attempted once ctx is already cancelled, got %d", len(outcome.StepSummaries))
	}
}

func TestRunRejectsNonIdleEngine(t *testing.T) {
	reg := newRegistry(t)
	mem := newMemoryWithUserRequest(t, "hello")
	llm := tape.New(tape.Turn{Content: "", ToolInvocations: []core.ToolInvocation{finishInvocation("c")}})
	eng := New(llm, reg, mem, nil, obs.NoopSink{}, Config{})
	eng.state = core.StateRunning

	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatal("expected error running a non-Idle engine")
	}
}
