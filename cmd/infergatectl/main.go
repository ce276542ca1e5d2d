// Package main is an operator CLI for inspecting an infergate configuration
// without starting the server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"infergate/config"
	"infergate/internal/app"
	"infergate/internal/router"
	"infergate/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "infergatectl",
		Short:         "Inspect infergate routing, caching and configuration",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $INFERGATE_CONFIG, config/config.yaml, config.yaml)")

	load := func() (*config.LoadResult, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("INFERGATE_CONFIG")
		}
		return config.LoadFile(path)
	}

	root.AddCommand(
		newModelsCmd(load),
		newRouteCmd(load),
		newFingerprintCmd(load),
		newConfigCmd(load),
	)
	return root
}

type loader func() (*config.LoadResult, error)

func loadRouter(load loader) (*config.Config, *router.Router, error) {
	result, err := load()
	if err != nil {
		return nil, nil, err
	}
	rt, err := router.New(app.ModelDescriptors(result.Config.Models))
	if err != nil {
		return nil, nil, err
	}
	return result.Config, rt, nil
}
