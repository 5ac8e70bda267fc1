package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/worker"
)

var analyzeInputFile string

// analyzeCmd is the detached worker behind the SubagentStop hook. It is
// hidden: the hook spawns it, nobody types it.
var analyzeCmd = &cobra.Command{
	Use:    "analyze",
	Short:  "Generate an invocation log from a finished subagent trace",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := worker.ReadJobInput(analyzeInputFile, cmd.InOrStdin())
		if err != nil {
			logger.Error("analyze job unreadable", "error", err)
			return nil
		}
		var job worker.AnalyzeJob
		if err := json.Unmarshal(data, &job); err != nil {
			logger.Error("analyze job undecodable", "error", err)
			return nil
		}
		if _, err := worker.Analyze(job, cfg, logger); err != nil {
			logger.Error("analyze failed", "session", job.SessionID, "error", err)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInputFile, "input-file", "",
		"read the job from this file instead of stdin (deleted after reading)")
	rootCmd.AddCommand(analyzeCmd)
}
