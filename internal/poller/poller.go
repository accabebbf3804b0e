// Package poller waits for a boundary to appear in a pane by repeatedly
// capturing it, and escalates with an interrupt and then a quit signal when
// the pane goes quiet for too long or the overall deadline passes.
//
// The escalation is a small state machine:
//
//	Waiting -> Found
//	Waiting -> IdleExpired | OverallExpired -> InterruptSent -> GraceWaiting -> Found
//	                                                                       -> ForceKilled -> Reported
//
// A reported timeout is never retried.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timvw/tmux-bridge/internal/ansi"
	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
)

// Escalation keys.
const (
	InterruptKey = "C-c"
	QuitKey      = `C-\`
)

// Defaults.
const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultGrace          = 3 * time.Second
	DefaultIdleTimeout    = 10 * time.Second
	DefaultOverallTimeout = 120 * time.Second
)

// State is a state of the escalation machine.
type State int

const (
	Waiting State = iota
	IdleExpired
	OverallExpired
	InterruptSent
	GraceWaiting
	ForceKilled
	Reported
	Found
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case IdleExpired:
		return "idle_expired"
	case OverallExpired:
		return "overall_expired"
	case InterruptSent:
		return "interrupt_sent"
	case GraceWaiting:
		return "grace_waiting"
	case ForceKilled:
		return "force_killed"
	case Reported:
		return "reported"
	case Found:
		return "found"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the poll loop timing.
type Config struct {
	PollInterval   time.Duration
	IdleTimeout    time.Duration
	OverallTimeout time.Duration
	Grace          time.Duration
}

// DefaultConfig returns the standard timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		IdleTimeout:    DefaultIdleTimeout,
		OverallTimeout: DefaultOverallTimeout,
		Grace:          DefaultGrace,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = d.OverallTimeout
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	return c
}

// Detector inspects one raw capture and reports whether the awaited
// boundary is present. An error aborts the wait.
type Detector func(raw string) (bool, error)

// Outcome describes how a wait ended.
type Outcome struct {
	// State is Found or Reported.
	State State
	// Expired is the timeout that started escalation, if any.
	Expired model.ErrorKind
	// Raw is the last capture.
	Raw string
	// Path lists every state visited, in order.
	Path []State
	// Elapsed is the total time waited.
	Elapsed time.Duration
}

// Escalated reports whether the interrupt was sent.
func (o Outcome) Escalated() bool {
	return o.Expired != ""
}

// Poller waits on one pane.
type Poller struct {
	Mux    mux.Multiplexer
	Target string
	Clock  Clock
	Config Config
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)

	log *slog.Logger
}

// New returns a poller on target using the real clock.
func New(m mux.Multiplexer, target string, cfg Config) *Poller {
	return &Poller{Mux: m, Target: target, Clock: RealClock{}, Config: cfg}
}

type run struct {
	p       *Poller
	ctx     context.Context
	cfg     Config
	state   State
	outcome Outcome
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.outcome.Path = append(r.outcome.Path, to)
	r.p.log.Debug("transition", "from", from.String(), "to", to.String())
	if r.p.OnTransition != nil {
		r.p.OnTransition(from, to)
	}
}

// Wait polls until detect reports the boundary or the escalation finishes.
// The wait ignores cancellation of ctx: only its own timers end it.
// Capture and signalling errors abort the wait.
func (p *Poller) Wait(ctx context.Context, detect Detector) (out Outcome, err error) {
	if p.Clock == nil {
		p.Clock = RealClock{}
	}
	p.log = logging.ForComponent(logging.CompPoller).With("target", p.Target)

	r := &run{p: p, ctx: context.WithoutCancel(ctx), cfg: p.Config.withDefaults(), state: Waiting}
	r.outcome.Path = []State{Waiting}
	start := p.Clock.Now()
	defer func() { out.Elapsed = p.Clock.Now().Sub(start) }()

	lastChange := start
	lastLen := -1
	for {
		p.Clock.Sleep(r.cfg.PollInterval)

		found, err := r.poll(detect)
		if err != nil {
			return r.outcome, err
		}
		if found {
			r.transition(Found)
			r.outcome.State = Found
			return r.outcome, nil
		}

		now := p.Clock.Now()
		if n := len(ansi.Strip(r.outcome.Raw)); n != lastLen {
			lastLen = n
			lastChange = now
		}

		if now.Sub(start) >= r.cfg.OverallTimeout {
			r.transition(OverallExpired)
			r.outcome.Expired = model.KindOverallTimeout
			break
		}
		if now.Sub(lastChange) >= r.cfg.IdleTimeout {
			r.transition(IdleExpired)
			r.outcome.Expired = model.KindIdleTimeout
			break
		}
	}

	return r.escalate(detect)
}

func (r *run) poll(detect Detector) (bool, error) {
	raw, err := r.p.Mux.CapturePane(r.ctx, r.p.Target)
	if err != nil {
		return false, model.Errorf(model.KindTransport, "capturing pane %s", r.p.Target).Wrap(err)
	}
	r.outcome.Raw = raw
	return detect(raw)
}

// escalate interrupts the foreground process, waits out the grace period
// still looking for the boundary, then sends the quit signal.
func (r *run) escalate(detect Detector) (Outcome, error) {
	clock := r.p.Clock
	r.p.log.Info("escalating", "reason", string(r.outcome.Expired))

	if err := r.p.Mux.SendKeys(r.ctx, r.p.Target, InterruptKey); err != nil {
		return r.outcome, model.Errorf(model.KindTransport, "sending interrupt").Wrap(err)
	}
	r.transition(InterruptSent)

	graceStart := clock.Now()
	r.transition(GraceWaiting)
	for {
		remaining := r.cfg.Grace - clock.Now().Sub(graceStart)
		if remaining <= 0 {
			break
		}
		clock.Sleep(min(r.cfg.PollInterval, remaining))
		found, err := r.poll(detect)
		if err != nil {
			return r.outcome, err
		}
		if found {
			r.transition(Found)
			r.outcome.State = Found
			return r.outcome, nil
		}
	}

	if err := r.p.Mux.SendKeys(r.ctx, r.p.Target, QuitKey); err != nil {
		return r.outcome, model.Errorf(model.KindTransport, "sending quit").Wrap(err)
	}
	r.transition(ForceKilled)

	clock.Sleep(r.cfg.PollInterval)
	if raw, err := r.p.Mux.CapturePane(r.ctx, r.p.Target); err == nil {
		r.outcome.Raw = raw
	}
	r.transition(Reported)
	r.outcome.State = Reported
	return r.outcome, nil
}

// TimeoutError builds the error reported for an escalated wait, carrying
// whatever partial output the caller recovered.
func TimeoutError(kind model.ErrorKind, cfg Config, partial string) *model.Error {
	cfg = cfg.withDefaults()
	var e *model.Error
	if kind == model.KindOverallTimeout {
		e = model.Errorf(kind, "Timeout: max-time of %s exceeded.", seconds(cfg.OverallTimeout))
	} else {
		e = model.Errorf(kind, "Timeout: no output for %s.", seconds(cfg.IdleTimeout))
	}
	return e.WithPartial(partial).
		WithHint("The command was interrupted. Re-run it with a longer --timeout/--max-time, or use tb launch for long-running commands.")
}

func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
