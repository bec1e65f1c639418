package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"corvid/internal/config"
)

// rootState holds the flags shared across every subcommand, the same
// single-struct-of-persistent-flags shape the teacher's CLI type uses.
type rootState struct {
	configPath string
	stateRoot  string
	logLevel   string
	logFormat  string
}

// loadConfig layers built-in defaults, an optional YAML file, environment
// variables, then the root command's own flags, in that increasing
// precedence order.
func (s *rootState) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.WithConfigPath(s.configPath))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if s.stateRoot != "" {
		cfg.StateRoot = s.stateRoot
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	if s.logFormat != "" {
		cfg.LogFormat = s.logFormat
	}
	return cfg, nil
}

// NewRootCommand builds the corvid cobra command tree: serve, gc, status,
// discover.
func NewRootCommand() *cobra.Command {
	cli := &rootState{}

	root := &cobra.Command{
		Use:   "corvid",
		Short: "MCP server core: subprocess supervision, JSONL streaming, content-addressed checkpoints",
		Long: `corvid is the core runtime of an MCP server that supervises many
concurrent child CLI processes, streams their line-delimited JSON output
back with backpressure, and provides content-addressed checkpoint/restore
of those sessions. MCP wire transport framing is an external collaborator;
this binary boots the core and exposes it for that collaborator to drive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "path to a corvid.yaml configuration file")
	root.PersistentFlags().StringVar(&cli.stateRoot, "state-root", "", "override the on-disk state root")
	root.PersistentFlags().StringVar(&cli.logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&cli.logFormat, "log-format", "", "override the configured log format (text|json)")

	root.AddCommand(newServeCommand(cli))
	root.AddCommand(newGCCommand(cli))
	root.AddCommand(newStatusCommand(cli))
	root.AddCommand(newDiscoverCommand(cli))
	root.AddCommand(newVersionCommand())

	return root
}
