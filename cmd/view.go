package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/fakeyudi/tasktrail/internal/index"
	"github.com/fakeyudi/tasktrail/internal/tui"
	"github.com/fakeyudi/tasktrail/internal/worker"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view [log-file]",
	Short: "Browse an invocation log",
	Long: `Opens an invocation log in a sectioned viewer. With no argument the
most recently indexed log is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			root, err := worker.ResolveProjectRoot("")
			if err != nil {
				return err
			}
			idx := index.Open(cfg.AgentsDir(root), cfg.StaleLockAge())
			last, ok, err := idx.Latest()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no invocation logs recorded yet")
			}
			path = filepath.Join(cfg.AgentsDir(root), filepath.FromSlash(last.LogFile))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("log not found: %s", path)
			}
			return err
		}

		doc := tui.Parse(string(data))
		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			cmd.Print(string(data))
			return nil
		}
		return tui.Run(doc, path)
	},
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
