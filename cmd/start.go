package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/timvw/tmux-bridge/internal/model"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a bridge session and attach to it (humans only)",
	Long: `Create a new tmux session for sharing with an agent and attach to it.

The session id is printed before attaching; hand it to the agent with
"export TB_SESSION=<id>". With --session the given id is used and must
not exist yet; otherwise a short id is generated.

tb start must run in an interactive terminal. An agent that needs a
session should ask the user to run it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return model.Errorf(model.KindUsage, "tb start must be run in an interactive terminal.").
				WithHint("Ask the user to run: tb start")
		}

		b, err := newBridge()
		if err != nil {
			return err
		}
		sess, err := b.Start(cmd.Context(), flagSession)
		if err != nil {
			return err
		}

		fmt.Printf("Started session '%s'\n\n", sess.ID)
		fmt.Printf("Tell your agent: export TB_SESSION=%s\n\n", sess.ID)

		// Attach replaces this process, so flush telemetry and logs first.
		teardown()
		return b.Attach(sess)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
