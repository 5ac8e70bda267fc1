package cmd

import (
	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/cache"
	"github.com/fakeyudi/tasktrail/internal/index"
	"github.com/fakeyudi/tasktrail/internal/worker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded subagent activity for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := worker.ResolveProjectRoot("")
		if err != nil {
			return err
		}

		idx := index.Open(cfg.AgentsDir(root), cfg.StaleLockAge())
		records, err := idx.All()
		if err != nil {
			return err
		}
		prompts, err := idx.Prompts("")
		if err != nil {
			return err
		}

		sessions := make(map[string]bool, len(records))
		for _, rec := range records {
			sessions[rec.Session] = true
		}

		cmd.Printf("Invocation logs: %d\n", len(records))
		cmd.Printf("Sessions: %d\n", len(sessions))
		cmd.Printf("Prompts recorded: %d\n", len(prompts))
		if last, ok, err := idx.Latest(); err == nil && ok {
			cmd.Printf("Latest: %s (%s) -> %s\n", last.Subagent, last.Start, last.LogFile)
		}

		if store, err := cache.Open(cache.Options{TTL: cfg.CacheTTL(), StaleAge: cfg.StaleLockAge(), Logger: logger}); err == nil {
			if entries, err := store.Snapshot(); err == nil && len(entries) > 0 {
				cmd.Printf("Cached task starts: %d\n", len(entries))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
