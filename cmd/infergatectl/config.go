package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"infergate/config"
)

func newConfigCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, including environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := load()
			if err != nil {
				return err
			}
			source := result.Path
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK (%s, %d models, cache %s)\n",
				source, len(result.Config.Models), result.Config.Cache.Type)
			return nil
		},
	}

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}
