package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"corvid/internal/errors"
)

func newDiscoverCommand(cli *rootState) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Resolve the external CLI executable and print the binary record",
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

			rec, err := container.Frontend.DiscoverExecutable(cmd.Context(), force)
			if err != nil {
				if errors.KindOf(err) == errors.NotFound {
					return &ExitCodeError{Code: exitBinaryUnavailable, Err: err}
				}
				return &ExitCodeError{Code: exitInternal, Err: err}
			}

			fmt.Printf("path=%s version=%s method=%s\n", rec.Path, rec.Version, rec.Method)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache and re-run the discovery chain")
	return cmd
}
