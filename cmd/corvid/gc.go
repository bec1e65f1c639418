package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newGCCommand(cli *rootState) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run Content Store / Checkpoint Manager garbage collection once",
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

			objects, bytesFreed, err := container.Checkpoint.GC(cmd.Context(), dryRun)
			if err != nil {
				return &ExitCodeError{Code: exitInternal, Err: err}
			}

			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Printf("%s %s %d unreachable blob(s), freeing %s\n",
				color.GreenString("gc:"), verb, objects, color.CyanString(humanBytes(bytesFreed)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without deleting anything")
	return cmd
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
