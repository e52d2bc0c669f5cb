package cmd

import (
	"github.com/spf13/cobra"
)

var ingestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest <url|doi>...",
	Short: "Scrape, chunk and embed articles",
	Long: `Fetches every article with a headless browser, cleans and chunks its text
and stores one embedding per chunk. Bare DOIs are resolved through doi.org.
Chunks already stored for a DOI are replaced.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "urls processed at once (default INGEST_WORKERS)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ingestWorkers)
	if err != nil {
		return err
	}

	for line := range orch.Run(ctx, args) {
		cmd.Println(line)
	}
	return ctx.Err()
}
