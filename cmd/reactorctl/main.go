// Command reactorctl is a tiny demo host for the reactor core: an
// illustration of wiring an LLM client, a couple of toy tools, and the
// Session Facade together. A real host's tool belt, transport, and
// persistence are left to the caller.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscore/reactor/internal/convo"
	"github.com/nexuscore/reactor/internal/llmclient"
	"github.com/nexuscore/reactor/internal/obs"
	"github.com/nexuscore/reactor/internal/session"
	"github.com/nexuscore/reactor/internal/stepengine"
	"github.com/nexuscore/reactor/internal/toolset"
	"github.com/nexuscore/reactor/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	flagModel       string
	flagBaseURL     string
	flagMaxSteps    int
	flagToolChoice  string
	flagMetricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:     "reactorctl",
		Short:   "Demo host for the reactor ReAct agent core",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single agent session against a prompt",
		Args:  cobra.ExactArgs(1),
		RunE:  runRequest,
	}
	runCmd.Flags().StringVar(&flagModel, "model", "gpt-4o", "model name passed to the LLM endpoint")
	runCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "override OpenAI-compatible base URL")
	runCmd.Flags().IntVar(&flagMaxSteps, "max-steps", 10, "maximum think/act iterations")
	runCmd.Flags().StringVar(&flagToolChoice, "tool-choice", "auto", "none|auto|required")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address while the session runs")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRequest(cmd *cobra.Command, args []string) error {
	apiKey := os.Getenv("REACTOR_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("REACTOR_API_KEY must be set")
	}

	runID := uuid.New().String()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("run_id", runID)

	registry := toolset.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		return err
	}
	if err := registry.Register(finishTool{}); err != nil {
		return err
	}

	client := llmclient.New(apiKey, flagBaseURL, llmclient.Config{
		Model:  flagModel,
		Logger: logger,
	})

	choice, err := parseToolChoice(flagToolChoice)
	if err != nil {
		return err
	}

	mem := convo.New(80, 40)
	summarizer := convo.SummarizerFunc(func(ctx context.Context, messages []core.Message) (string, error) {
		return client.Ask(ctx, messages, "Summarize the key actions and findings above in a few sentences for future reference.")
	})

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)
	sink := obs.MultiSink{obs.NewMetricsSink(metrics), loggingSink{logger: logger}}

	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: flagMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	engine := stepengine.New(client, registry, mem, summarizer, sink, stepengine.Config{
		MaxSteps:         flagMaxSteps,
		ToolChoicePolicy: choice,
	})
	sess := session.New(mem, engine, session.Config{})

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	summary, err := sess.Run(ctx, args[0])
	if summary != "" {
		fmt.Println(summary)
	}
	if err != nil {
		if ce, ok := core.AsCoreError(err); ok {
			return fmt.Errorf("session ended in error (%s): %s", ce.Kind, ce.Message)
		}
		return err
	}
	return nil
}

func parseToolChoice(s string) (core.ToolChoicePolicy, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return core.ToolChoiceAuto, nil
	case "none":
		return core.ToolChoiceNone, nil
	case "required":
		return core.ToolChoiceRequired, nil
	default:
		return "", fmt.Errorf("unknown tool-choice %q: want none|auto|required", s)
	}
}

// echoTool and finishTool are toy tools: reactorctl exists to demonstrate
// wiring, not to ship a real tool belt.

type echoTool struct{}

func (echoTool) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:            "echo",
		Description:     "Echoes the given text back, useful for testing tool plumbing.",
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

type finishTool struct{}

func (finishTool) Descriptor() core.ToolDescriptor {
	return core.ToolDescriptor{
		Name:            "finish",
		Description:     "Call this when the user's request has been fully satisfied.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}}}`),
		IsTerminal:      true,
	}
}

func (finishTool) Execute(ctx context.Context, arguments json.RawMessage) (string, error) {
	var args struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(arguments, &args)
	return args.Summary, nil
}

// loggingSink mirrors each step event to structured logs.
type loggingSink struct {
	logger *slog.Logger
}

func (s loggingSink) Emit(event obs.StepEvent) {
	s.logger.Info("step",
		"step_no", event.StepNo,
		"phase", event.Phase,
		"state_after", event.StateAfter.String(),
		"tool_calls", event.ToolCalls,
	)
}
