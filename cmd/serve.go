package cmd

import (
	"github.com/spf13/cobra"

	"scholarqa/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default 0.0.0.0:$PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(0)
	if err != nil {
		return err
	}
	completer, ollama, err := a.completer(ctx)
	if err != nil {
		return err
	}
	svc, err := a.answers(completer)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = "0.0.0.0:" + cfg.Server.Port
	}

	srv := server.New(server.Deps{
		Ingest:    orch,
		Answers:   svc,
		Citations: a.citations,
		Articles:  a.sqlite,
		Checks:    a.healthChecks(ollama),
	})
	return srv.ListenAndServe(ctx, addr)
}
