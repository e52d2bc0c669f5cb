package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scholarqa/config"
	"scholarqa/logger"
)

var (
	cfg     *config.Config
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "scholarqa",
	Short: "Answer questions from a corpus of scientific articles",
	Long: `scholarqa scrapes journal articles, embeds their text into a vector store
and answers questions from the indexed corpus with cited sources.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg = loaded

	level := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)
	logger.SetLogFile(cfg.Log.File)
	return nil
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
