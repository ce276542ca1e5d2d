package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"infergate/internal/core"
	"infergate/internal/tokens"
)

func newRouteCmd(load loader) *cobra.Command {
	var (
		model   string
		count   int
		prompt  string
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show which model a request would be routed to",
		Example: `  infergatectl route --model auto --tokens 5000
  infergatectl route --prompt "Summarise this document"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, rt, err := loadRouter(load)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("prompt") {
				if cmd.Flags().Changed("tokens") {
					return errors.New("--tokens and --prompt are mutually exclusive")
				}
				estimator, err := tokens.New(cfg.Orchestrator.TokenEstimator)
				if err != nil {
					return err
				}
				count = estimator.Estimate([]core.Message{{Role: core.RoleUser, Content: prompt}})
			}
			if count < 0 {
				return errors.New("--tokens must not be negative")
			}

			res, err := rt.Resolve(model, count)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Model.ID)
			if explain {
				fmt.Fprintf(out, "estimated tokens: %d\ncontext length:   %d\n", count, res.Model.ContextLength)
			}
			if res.Warning != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", res.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", core.AutoModel, "requested model id")
	cmd.Flags().IntVarP(&count, "tokens", "t", 0, "estimated prompt tokens")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "estimate tokens from this prompt text")
	cmd.Flags().BoolVarP(&explain, "verbose", "v", false, "print the token estimate and context window")
	return cmd
}
