package stepengine

import "github.com/nexuscore/reactor/pkg/core"

const (
	defaultNextStepPrompt = "Continue working towards the user's goal. Call a tool if one is needed, or reply with your final answer."

	interventionNotice = "Duplicate responses observed, consider a new strategy or terminate."

	requiredToolReminder = "A tool call is required this turn; you replied with no tool invocations. Call one of the available tools now."
)

// Config holds the subset of the session configuration the Step Engine
// consumes directly.
type Config struct {
	// MaxSteps bounds the number of think/act iterations.
	MaxSteps int

	// DuplicateThreshold is the run length of identical consecutive
	// assistant contents that triggers a stuck-loop intervention.
	DuplicateThreshold int

	// ToolChoicePolicy directs every think call in this session.
	ToolChoicePolicy core.ToolChoicePolicy

	// NextStepPrompt is the transient per-turn instruction appended to the
	// transcript before each think call; never persisted to memory.
	NextStepPrompt string
}

func (c Config) sanitized() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 10
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = 3
	}
	if c.ToolChoicePolicy == "" {
		c.ToolChoicePolicy = core.ToolChoiceAuto
	}
	if c.NextStepPrompt == "" {
		c.NextStepPrompt = defaultNextStepPrompt
	}
	return c
}
