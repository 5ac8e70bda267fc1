package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Process one agent hook payload from stdin",
	Long: `Reads a single JSON hook payload from stdin and handles it:
Task starts are cached, user prompts recorded, and finished subagents or
sessions hand off to a detached worker. Always exits 0 so a logging
failure never blocks the agent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			logger.Warn("hook input unreadable", "error", err)
			return nil
		}
		if err := hook.NewRunner(cfg, logger).Dispatch(input); err != nil {
			logger.Warn("hook handling failed", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
