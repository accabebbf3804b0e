package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var launchCmd = &cobra.Command{
	Use:   "launch [flags] -- <command>",
	Short: "Start a long-running command in a background task pane",
	Long: `Start a command in a new pane above the session's main pane and return
at once with its task id (t1..t6). Use "tb check" to see its progress
and "tb done" to close the pane once it has finished.

Up to six tasks run at a time: three across in a first column, then
three more in a second column.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := commandArgs(args, "tb launch -- <command>")
		if err != nil {
			return err
		}
		b, err := newBridge()
		if err != nil {
			return err
		}

		t, err := b.Launch(cmd.Context(), flagSession, command)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s started.\n", t.ID)
		fmt.Printf("Check status with: tb check %s\n", t.ID)
		return nil
	},
}

func init() {
	launchCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(launchCmd)
}
