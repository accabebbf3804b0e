package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/model"
)

var checkCmd = &cobra.Command{
	Use:   "check <task>",
	Short: "Show a background task's output so far",
	Long: `Print what a background task has written so far without waiting for it.

Once the task has finished, its exit code is reported along with the
command to close its pane. tb check itself exits 0 either way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		b, err := newBridge()
		if err != nil {
			return err
		}

		t, err := b.Check(cmd.Context(), flagSession, args[0])
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	},
}

func init() {
	addBudgetFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

func printTask(t *model.Task) {
	printBody(t.Output)
	switch t.State {
	case model.TaskComplete:
		fmt.Println()
		fmt.Printf("Task %s finished with exit code %d.\n", t.ID, t.ExitCode)
		fmt.Printf("Close pane with: tb done %s\n", t.ID)
	case model.TaskUnreachable:
		fmt.Println()
		fmt.Printf("Task %s cannot be read (its pane may have been closed by hand).\n", t.ID)
		fmt.Printf("Close it with: tb done %s\n", t.ID)
	}
}
