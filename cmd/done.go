package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var doneCmd = &cobra.Command{
	Use:   "done <task>",
	Short: "Close a background task's pane",
	Long: `Kill a background task's pane, whether or not it has finished, and free
its task id. The remaining task panes are laid out again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}
		t, err := b.Done(cmd.Context(), flagSession, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Closed task %s.\n", t.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
}
