package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/dashboard"
)

var (
	flagTheme    string
	flagInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive view of the session's background tasks",
	Long: `Open a terminal UI listing the session's background tasks with the
selected task's latest output. Tasks can be launched (n) and closed (x)
from the UI; the list refreshes on its own every --interval.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}
		// Fail early on a missing session instead of inside the UI.
		sess, err := b.Sessions.Resolve(cmd.Context(), flagSession)
		if err != nil {
			return err
		}

		d := &dashboard.Dashboard{
			Source:          b,
			Session:         sess.ID,
			RefreshInterval: flagInterval,
			Theme:           dashboard.ThemeByName(flagTheme),
		}
		return d.Run(cmd.Context())
	},
}

func init() {
	watchCmd.Flags().StringVar(&flagTheme, "theme", "dark", "Color theme: dark, light")
	watchCmd.Flags().DurationVar(&flagInterval, "interval", 2*time.Second, "refresh interval (0 disables auto-refresh)")
	rootCmd.AddCommand(watchCmd)
}
