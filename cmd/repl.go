package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/repl"
)

var (
	flagPrompt   string
	flagReplExit string
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Drive an interactive interpreter turn by turn",
	Long: `Run a REPL (python, node, psql, ...) in the session's main pane and send
it one expression at a time. Each turn waits for the prompt to come back
and prints what the REPL answered, without the echoed input.

The prompt is a regular expression matched against the last line of the
pane, e.g. '^>>> $' for python.`,
}

var replStartCmd = &cobra.Command{
	Use:   "start [flags] -- <command>",
	Short: "Launch a REPL and wait for its first prompt",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := commandArgs(args, "tb repl start --prompt '<regexp>' -- <command>")
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		prompt := flagPrompt
		if prompt == "" {
			prompt = cfg.Prompt
		}
		if prompt == "" {
			return model.Errorf(model.KindUsage, "No prompt pattern given.").
				WithHint("Usage: tb repl start --prompt '^>>> $' -- python3")
		}
		exit := flagReplExit
		if !cmd.Flags().Changed("exit") {
			exit = cfg.ReplExit
		}

		b, err := newBridge()
		if err != nil {
			return err
		}
		res, err := b.ReplStart(cmd.Context(), flagSession, repl.StartOptions{
			Command:     command,
			Prompt:      prompt,
			ExitCommand: exit,
		})
		if err != nil {
			return err
		}
		printBody(res.Body)
		return nil
	},
}

var replEvalCmd = &cobra.Command{
	Use:   "eval [flags] -- <expr>",
	Short: "Send one expression to the REPL and print the answer",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return model.Errorf(model.KindUsage, "No expression given.").
				WithHint("Usage: tb repl eval -- <expr>")
		}
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		b, err := newBridge()
		if err != nil {
			return err
		}
		res, err := b.ReplEval(cmd.Context(), flagSession, flagPrompt, marker.CommandFromArgs(args))
		if err != nil {
			return err
		}
		printBody(res.Body)
		return nil
	},
}

var replCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Leave the REPL and return the pane to its shell",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		b, err := newBridge()
		if err != nil {
			return err
		}
		res, err := b.ReplClose(cmd.Context(), flagSession)
		if err != nil {
			return err
		}
		printBody(res.Output)
		if res.Escalated {
			fmt.Println("The REPL did not exit on its own and was interrupted.")
		}
		fmt.Println("REPL closed.")
		return nil
	},
}

var replStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the REPL running in the session, if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBridge()
		if err != nil {
			return err
		}
		st, err := b.ReplStatus(cmd.Context(), flagSession)
		if err != nil {
			return err
		}
		if st == nil {
			fmt.Println("No REPL running.")
			return nil
		}
		fmt.Println(repl.Describe(st))
		return nil
	},
}

func init() {
	replStartCmd.Flags().SetInterspersed(false)
	replStartCmd.Flags().StringVar(&flagPrompt, "prompt", "", "prompt regular expression (default: config prompt)")
	replStartCmd.Flags().StringVar(&flagReplExit, "exit", "", "command typed to leave the REPL (default: Ctrl-D)")
	addTimeoutFlags(replStartCmd)

	replEvalCmd.Flags().SetInterspersed(false)
	replEvalCmd.Flags().StringVar(&flagPrompt, "prompt", "", "prompt regular expression for this turn (default: the one given at start)")
	addTimeoutFlags(replEvalCmd)
	addBudgetFlags(replEvalCmd)

	addTimeoutFlags(replCloseCmd)

	replCmd.AddCommand(replStartCmd, replEvalCmd, replCloseCmd, replStatusCmd)
	rootCmd.AddCommand(replCmd)
}
