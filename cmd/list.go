package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bridge sessions",
	Long: `List the live bridge sessions, one id per line.

Attached sessions (a human is watching) are marked with "(attached)".
Each id can be passed with --session or exported as TB_SESSION.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}

		sessions, err := b.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		for _, s := range sessions {
			if s.Attached {
				fmt.Printf("%s (attached)\n", s.ID)
			} else {
				fmt.Println(s.ID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
