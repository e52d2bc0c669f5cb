package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"scholarqa/answer"
)

var (
	askLong         bool
	askKeywords     string
	askHypothetical bool
	askMaxChunks    int
	askBudget       int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed articles",
	Long: `Retrieves the closest chunks for the question, streams the model's answer
and ends with the SOURCE list of the articles used as context.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askLong, "long", false, "use the long context model and token budget")
	askCmd.Flags().StringVarP(&askKeywords, "keywords", "k", "", "comma separated keywords a chunk must contain")
	askCmd.Flags().BoolVar(&askHypothetical, "hypothetical", false, "search with a generated answer instead of the question")
	askCmd.Flags().IntVar(&askMaxChunks, "max-chunks", 0, "chunks per source (default MAX_CHUNKS_PER_SOURCE)")
	askCmd.Flags().IntVar(&askBudget, "budget", 0, "context token budget (default TOKEN_BUDGET)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	completer, _, err := a.completer(ctx)
	if err != nil {
		return err
	}
	svc, err := a.answers(completer)
	if err != nil {
		return err
	}

	err = svc.Ask(ctx, cmd.OutOrStdout(), answer.Request{
		Question:           strings.Join(args, " "),
		Keywords:           askKeywords,
		MaxChunksPerSource: askMaxChunks,
		TokenBudget:        askBudget,
		LongContext:        askLong,
		Hypothetical:       askHypothetical,
	})
	cmd.Println()
	return err
}
