// Package llm holds the remote assistant settings.
package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
)

const DefaultAssistantName = "Weggy (Kooler Agent)"

type Config struct {
	// ID pins an existing assistant. When empty the assistant is looked up by
	// Name and created if missing.
	ID           string        `envconfig:"ID"`
	Name         string        `envconfig:"NAME" default:"Weggy (Kooler Agent)"`
	Model        string        `envconfig:"MODEL" default:"gpt-4o"`
	Stream       bool          `envconfig:"STREAM" default:"false"`
	PollInterval time.Duration `split_words:"true" default:"1s"`
	RunTimeout   time.Duration `split_words:"true" default:"90s"`
	CacheTTL     time.Duration `split_words:"true" default:"24h"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" && strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: assistant id or name is required", contractx.ErrValidation)
	}
	if c.PollInterval < 0 || c.RunTimeout < 0 {
		return fmt.Errorf("%w: assistant intervals must be >= 0", contractx.ErrValidation)
	}
	return nil
}

// Definition is what EnsureAssistant creates when no assistant matches.
func (c Config) Definition(instructions string, tools []contractx.ToolDefinition) contractx.AssistantDefinition {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = DefaultAssistantName
	}
	return contractx.AssistantDefinition{
		Name:         name,
		Model:        strings.TrimSpace(c.Model),
		Instructions: instructions,
		Tools:        tools,
	}
}
