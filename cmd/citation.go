package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var citationCmd = &cobra.Command{
	Use:   "citation <doi>",
	Short: "Show citation metadata for a DOI",
	Long:  `Looks the DOI up in the local citation cache, falling back to OpenAlex.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCitation,
}

func init() {
	rootCmd.AddCommand(citationCmd)
}

func runCitation(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	meta, err := a.citations.Lookup(ctx, args[0])
	if err != nil {
		return fmt.Errorf("citation lookup failed: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal citation: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
