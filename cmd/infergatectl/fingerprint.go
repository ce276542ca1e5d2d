package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"infergate/internal/core"
	"infergate/internal/orchestrator"
	"infergate/internal/tokens"
)

func newFingerprintCmd(load loader) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the cache key a chat completion request would be stored under",
		Long: `Reads a /v1/chat/completions request body from --file (or stdin when the
file is "-"), applies routing and the configured defaults, and prints the
resolved model and cache fingerprint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rt, err := loadRouter(load)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var req core.ChatRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("failed to decode request: %w", err)
			}

			estimator, err := tokens.New(cfg.Orchestrator.TokenEstimator)
			if err != nil {
				return err
			}
			orch := orchestrator.New(orchestrator.Config{
				DefaultMaxTokens:   cfg.Orchestrator.DefaultMaxTokens,
				DefaultTemperature: cfg.Orchestrator.DefaultTemperature,
				DefaultTopP:        cfg.Orchestrator.DefaultTopP,
			}, rt, estimator, nil, nil, nil)

			plan, err := orch.Prepare(&req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:       %s\n", plan.Request.Model)
			fmt.Fprintf(out, "tokens:      %d\n", plan.EstimatedTokens)
			fmt.Fprintf(out, "fingerprint: %s\n", plan.Fingerprint())
			if plan.Request.Stream {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: streaming requests bypass the cache")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request body file, - for stdin")
	return cmd
}
