package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Champsson/Kooler-Agent/agent/knowledge"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load documents into the knowledge base",
	Long: `Split documents into overlapping chunks, embed them and upsert them into the
Pinecone index.

Examples:
  kooler-agent ingest --file ./docs/services.md
  kooler-agent ingest --file ./docs/faq.txt --file ./docs/warranty.txt --source kooler-docs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		source, _ := cmd.Flags().GetString("source")
		if len(files) == 0 {
			return fmt.Errorf("at least one --file is required")
		}

		oai, err := newOpenAI()
		if err != nil {
			return err
		}
		index, _, err := newPinecone()
		if err != nil {
			return err
		}
		ingestor, err := knowledge.NewIngestor(oai, index)
		if err != nil {
			return err
		}

		total := 0
		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				log.Warn().Str("file", file).Msg("skipping empty document")
				continue
			}

			name := source
			if name == "" {
				name = filepath.Base(file)
			}
			n, err := ingestor.Ingest(cmd.Context(), name, string(content))
			if err != nil {
				return fmt.Errorf("ingest %s: %w", file, err)
			}
			total += n
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", file, n)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "upserted %d vectors\n", total)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringSlice("file", nil, "document to ingest (repeatable)")
	ingestCmd.Flags().String("source", "", "source name stored with each chunk (default: file name)")
}
