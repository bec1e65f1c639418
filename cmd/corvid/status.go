package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"corvid/internal/registry"
)

func newStatusCommand(cli *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show binary locator status and current session counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return &ExitCodeError{Code: exitConfigError, Err: err}
			}

			container, err := buildContainer(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = container.Close() }()

			bold := color.New(color.Bold).SprintFunc()
			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()

			fmt.Printf("%s %s\n", bold("state root:"), cfg.StateRoot)

			rec, err := container.Frontend.DiscoverExecutable(cmd.Context(), false)
			if err != nil {
				fmt.Printf("%s %s\n", bold("executable:"), red(err.Error()))
			} else {
				fmt.Printf("%s %s (%s, via %s)\n", bold("executable:"), green(rec.Path), rec.Version, rec.Method)
			}

			running, err := container.Registry.List(registry.Filter{State: registry.StateRunning})
			if err != nil {
				return &ExitCodeError{Code: exitInternal, Err: err}
			}
			fmt.Printf("%s %d\n", bold("running sessions:"), len(running))

			orphaned, err := container.Registry.List(registry.Filter{State: registry.StateOrphaned})
			if err != nil {
				return &ExitCodeError{Code: exitInternal, Err: err}
			}
			fmt.Printf("%s %d\n", bold("orphaned records:"), len(orphaned))

			return nil
		},
	}
	return cmd
}
