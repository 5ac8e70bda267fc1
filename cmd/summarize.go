package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/worker"
)

var summarizeInputFile string

// summarizeCmd is the detached worker behind the Stop hook.
var summarizeCmd = &cobra.Command{
	Use:    "summarize",
	Short:  "Aggregate a finished session into a summary document",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := worker.ReadJobInput(summarizeInputFile, cmd.InOrStdin())
		if err != nil {
			logger.Error("summarize job unreadable", "error", err)
			return nil
		}
		var job worker.SummarizeJob
		if err := json.Unmarshal(data, &job); err != nil {
			logger.Error("summarize job undecodable", "error", err)
			return nil
		}
		if _, err := worker.Summarize(job, cfg, logger); err != nil {
			logger.Error("summarize failed", "session", job.SessionID, "error", err)
		}
		return nil
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeInputFile, "input-file", "",
		"read the job from this file instead of stdin (deleted after reading)")
	rootCmd.AddCommand(summarizeCmd)
}
