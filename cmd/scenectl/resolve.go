package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/scenepilot/scenepilot/pkg/server"
	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var (
		catalogPath string
		session     string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <utterance> [utterance...]",
		Short: "Run utterances through the pipeline as consecutive turns of one session",
		Example: `  scenectl resolve "turn on handles"
  scenectl resolve "give me implants" "4 x 11.5"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.CatalogPath = catalogPath

			ctx := cmd.Context()
			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer srv.Shutdown(ctx)

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			for _, text := range args {
				resp, err := srv.Turns.Handle(ctx, newTurn(session, text))
				if err != nil {
					return fmt.Errorf("%q: %w", text, err)
				}
				if asJSON {
					if err := enc.Encode(resp); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s intent=%s conf=%.2f", resp.Action, resp.Intent, resp.Confidence)
				if resp.Target != "" {
					line += " target=" + resp.Target
				}
				if resp.Value != nil && resp.Value.Present() {
					line += " value=" + resp.Value.String()
				}
				if len(resp.MissingSlots) > 0 {
					line += fmt.Sprintf(" missing=%v", resp.MissingSlots)
				}
				fmt.Fprintf(out, "> %s\n  %s\n  %s\n", text, line, strings.TrimSpace(resp.Message))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file (default: embedded scene catalog)")
	cmd.Flags().StringVar(&session, "session", "cli", "session id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full responses as JSON")
	return cmd
}

func newTurn(session, text string) models.TurnRequest {
	return models.TurnRequest{SessionID: session, Text: text}
}
