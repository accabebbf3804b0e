package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Kill a bridge session and all of its panes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}
		sess, err := b.Close(cmd.Context(), flagSession)
		if err != nil {
			return err
		}
		fmt.Printf("Closed session '%s'.\n", sess.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(closeCmd)
}
