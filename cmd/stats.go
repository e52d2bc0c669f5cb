package cmd

import (
	"github.com/spf13/cobra"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the vector store and recently ingested articles",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 10, "articles to list")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd.Printf("Vector store: %s\n", describeStore(ctx, a.store))

	articles, err := a.sqlite.ListArticles(ctx, statsLimit)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		cmd.Println("No articles ingested yet.")
		return nil
	}

	cmd.Println("Articles:")
	for _, art := range articles {
		cmd.Printf("  %s  %s (%d/%d chunks, %s)\n",
			art.IngestedAt.Format("2006-01-02 15:04"), art.DOI, art.Stored, art.Chunks, art.Title)
	}
	return nil
}
