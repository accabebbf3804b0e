package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/config"
	"github.com/timvw/tmux-bridge/internal/model"
)

var (
	flagTimeout string
	flagMaxTime string
	flagFirst   int
	flagLast    int
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command>",
	Short: "Run a command in the session and print its output",
	Long: `Type a command into the session's main pane, wait for it to finish,
and print its output. tb exits with the command's exit status.

A single argument is used as shell text verbatim, so pipes and
redirections work: tb run -- 'make 2>&1 | tail'. Several arguments are
quoted individually.

If the command prints nothing for --timeout seconds, or runs longer than
--max-time, it is interrupted (Ctrl-C, then Ctrl-\ after a grace period),
the output so far is printed, and tb exits with status 124.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := commandArgs(args, "tb run -- <command>")
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd); err != nil {
			return err
		}
		b, err := newBridge()
		if err != nil {
			return err
		}

		res, err := b.Run(cmd.Context(), flagSession, command)
		if err != nil {
			return err
		}
		printBody(res.Body)
		if res.ExitCode != 0 {
			return exitStatus(res.ExitCode)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().SetInterspersed(false)
	addTimeoutFlags(runCmd)
	addBudgetFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addTimeoutFlags(c *cobra.Command) {
	c.Flags().StringVarP(&flagTimeout, "timeout", "t", "", "seconds without output before interrupting (default 10)")
	c.Flags().StringVar(&flagMaxTime, "max-time", "", "maximum seconds to wait in total (default 120)")
}

func addBudgetFlags(c *cobra.Command) {
	c.Flags().IntVar(&flagFirst, "first", 0, "lines to keep from the start of long output (default 50)")
	c.Flags().IntVar(&flagLast, "last", 0, "lines to keep from the end of long output (default 50)")
}

// applyRunFlags overrides the loaded config with the flags that were set.
func applyRunFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		d, err := config.ParseSeconds(flagTimeout, 0)
		if err != nil {
			return model.Errorf(model.KindUsage, "Invalid --timeout %q: %v", flagTimeout, err)
		}
		cfg.IdleTimeoutDuration = d
	}
	if flags.Changed("max-time") {
		d, err := config.ParseSeconds(flagMaxTime, 0)
		if err != nil {
			return model.Errorf(model.KindUsage, "Invalid --max-time %q: %v", flagMaxTime, err)
		}
		cfg.MaxTimeDuration = d
	}
	if flags.Changed("first") {
		if flagFirst < 0 {
			return model.Errorf(model.KindUsage, "Invalid --first %d: must not be negative", flagFirst)
		}
		cfg.First = flagFirst
	}
	if flags.Changed("last") {
		if flagLast < 0 {
			return model.Errorf(model.KindUsage, "Invalid --last %d: must not be negative", flagLast)
		}
		cfg.Last = flagLast
	}
	return nil
}

func printBody(body string) {
	if body != "" {
		fmt.Println(body)
	}
}
