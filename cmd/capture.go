package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagCaptureTask string

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Print the current content of the session's main pane",
	Long: `Capture the session's main pane, including scrollback, and print it
with terminal control sequences removed. With --task, capture that
background task's pane instead.

This only reads the pane; nothing is typed into it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}

		content, err := b.Capture(cmd.Context(), flagSession, flagCaptureTask)
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, content)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&flagCaptureTask, "task", "", "capture a background task's pane (e.g. t1)")
	rootCmd.AddCommand(captureCmd)
}
