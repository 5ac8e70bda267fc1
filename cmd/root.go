package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/config"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger writes structured diagnostics to stderr. Hook output must stay
// off stdout, which the host may interpret.
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "tasktrail",
	Short: "Record and browse subagent activity from agent hook signals",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if os.Getenv("TASKTRAIL_DEBUG") != "" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		// A broken config file must not block the hook pipeline. Fall back
		// to defaults and say so.
		global, err := config.LoadGlobal()
		if err != nil {
			logger.Warn("global config unreadable, using defaults", "error", err)
			global = nil
		}
		project, err := config.LoadProject()
		if err != nil {
			logger.Warn("project config unreadable, ignoring it", "error", err)
			project = nil
		}
		cfg = config.Merge(global, project)
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}
