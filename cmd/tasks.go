package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the session's background tasks and their state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}
		list, err := b.ListTasks(cmd.Context(), flagSession)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No background tasks.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATE\tCOMMAND")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, tasks.Describe(t), t.Command)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
