package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Champsson/Kooler-Agent/agent/llm"
	"github.com/Champsson/Kooler-Agent/agent/prompt"
	configx "github.com/Champsson/Kooler-Agent/pkg/config"
)

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Find or create the remote assistant and print its id",
	Long: `Look the assistant up by ASSISTANT_NAME and create it with the configured tools
when it does not exist. Put the printed id in ASSISTANT_ID to skip the lookup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configx.New[llm.Config]("ASSISTANT")
		if err != nil {
			return err
		}
		cache, err := newCache()
		if err != nil {
			return err
		}
		oai, err := newOpenAI()
		if err != nil {
			return err
		}
		registry, err := newToolRegistry(oai, cache)
		if err != nil {
			return err
		}

		id, err := oai.EnsureAssistant(cmd.Context(), cfg.Definition(prompt.Assistant(), registry.Definitions()))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}
