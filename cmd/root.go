package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/tmux-bridge/internal/bridge"
	"github.com/timvw/tmux-bridge/internal/config"
	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
	telem "github.com/timvw/tmux-bridge/internal/otel"
	"github.com/timvw/tmux-bridge/internal/poller"
	"github.com/timvw/tmux-bridge/internal/state"
)

var (
	// Global flags.
	flagSession string
	flagMux     string
	flagConfig  string
	flagDebug   bool
)

// shutdownTimeout bounds the final telemetry flush.
const shutdownTimeout = 5 * time.Second

// Loaded by PersistentPreRunE.
var (
	cfg *config.Config
	tel *telem.Telemetry

	// endCommandSpan ends the root span of the running command.
	endCommandSpan func(error)
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Let an AI agent run commands in your tmux session",
	Long: `tb bridges an AI coding agent and a human-owned tmux session.

The human runs "tb start" and attaches; the agent then types commands into
that session with "tb run", watching the same terminal the human sees.
Output is delimited with unique markers so the agent gets exactly the
command's output and exit status, and runaway commands are interrupted.

Long-running commands go into background task panes ("tb launch"), and
interactive interpreters are driven turn by turn ("tb repl").

The session is taken from --session or $TB_SESSION.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

// exitStatus carries a wrapped command's non-zero status out of RunE
// without printing anything.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// Execute runs the root command and exits with the mapped status.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	finishCommand(err)
	var st exitStatus
	if errors.As(err, &st) {
		teardown()
		os.Exit(int(st))
	}
	var be *model.Error
	if errors.As(err, &be) && be.Partial != "" {
		fmt.Fprintln(os.Stdout, be.Partial)
	}
	fmt.Fprintln(os.Stderr, err)
	teardown()
	os.Exit(model.ExitCodeOf(err))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "bridge session id (default: $TB_SESSION)")
	rootCmd.PersistentFlags().StringVar(&flagMux, "mux", envOrDefault("TB_MUX", ""), "terminal multiplexer: tmux (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .tb.yaml, then ~/.config/tmux-bridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "write debug logs (same as TB_DEBUG=1)")
}

// setup loads configuration: defaults -> config file -> env vars -> flags,
// then initializes logging and telemetry.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flagDebug {
		cfg.Debug = true
	}

	logging.Init(logging.Config{
		LogDir: cfg.LogDir,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Debug:  cfg.Debug,
	})

	telem.Version = Version
	tel, err = telem.Init(cmd.Context(), telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel: %v (continuing without telemetry)\n", err)
		tel = telem.Noop()
	}

	ctx, end := tel.StartCommand(cmd.Context(), cmd.CommandPath())
	cmd.SetContext(ctx)
	endCommandSpan = end
	return nil
}

// finishCommand ends the root span once; later calls do nothing.
func finishCommand(err error) {
	if endCommandSpan != nil {
		endCommandSpan(err)
		endCommandSpan = nil
	}
}

func teardown() {
	finishCommand(nil)
	if tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		tel.Shutdown(ctx)
		cancel()
		tel = nil
	}
	logging.Shutdown()
}

// getMultiplexer returns the configured or auto-detected multiplexer.
func getMultiplexer() (mux.Multiplexer, error) {
	if flagMux != "" {
		return mux.FromName(flagMux)
	}
	return mux.Detect()
}

// newBridge wires a bridge from the loaded configuration.
func newBridge() (*bridge.Bridge, error) {
	m, err := getMultiplexer()
	if err != nil {
		return nil, err
	}
	store := state.NewStore(state.DefaultDir())
	if err := store.Ensure(); err != nil {
		return nil, fmt.Errorf("state directory: %w", err)
	}
	return bridge.New(m, store, tel, bridge.Options{
		Poll: poller.Config{
			PollInterval:   cfg.PollIntervalDuration,
			IdleTimeout:    cfg.IdleTimeoutDuration,
			OverallTimeout: cfg.MaxTimeDuration,
			Grace:          cfg.GraceDuration,
		},
		Budget:     &marker.Budget{First: cfg.First, Last: cfg.Last},
		TaskHeight: cfg.TaskHeight,
	}), nil
}

// commandArgs joins the args after "--" into shell text.
func commandArgs(args []string, usage string) (string, error) {
	if len(args) == 0 {
		return "", model.Errorf(model.KindUsage, "No command given.").WithHint("Usage: " + usage)
	}
	return marker.CommandFromArgs(args), nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
