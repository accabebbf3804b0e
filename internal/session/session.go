// Package session maps bridge session ids onto multiplexer sessions.
//
// A bridge session id is short and speakable ("abc"); the backing tmux
// session is the id with a fixed prefix ("tb-abc"). The id comes from an
// explicit --session flag or, failing that, $TB_SESSION.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"

	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
)

const (
	// EnvSession carries the ambient session id.
	EnvSession = "TB_SESSION"
	// EnvTestMode switches to a separate name prefix so test sessions never
	// collide with real ones.
	EnvTestMode = "TB_TEST_MODE"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var validIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Prefix returns the multiplexer session name prefix.
func Prefix() string {
	if os.Getenv(EnvTestMode) != "" {
		return "tbtest-"
	}
	return "tb-"
}

// TmuxName returns the multiplexer session name for a bridge id.
func TmuxName(id string) string {
	return Prefix() + id
}

// IDFromName returns the bridge id for a multiplexer session name, or false
// if the session is not a bridge session.
func IDFromName(name string) (string, bool) {
	p := Prefix()
	if !strings.HasPrefix(name, p) || len(name) == len(p) {
		return "", false
	}
	return name[len(p):], true
}

// ResolveID picks the session id: explicit wins over $TB_SESSION. Neither
// set is a usage error.
func ResolveID(explicit string, getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	id := explicit
	if id == "" {
		id = getenv(EnvSession)
	}
	if id == "" {
		return "", model.Errorf(model.KindUsage, "No session specified.").
			WithHint("Set TB_SESSION environment variable, or use --session ID.\nAsk the user which tmux-bridge session to use.")
	}
	if !validIDRe.MatchString(id) {
		return "", model.Errorf(model.KindUsage, "Invalid session id %q.", id).
			WithHint("Session ids contain only letters, digits, '-' and '_'.")
	}
	return id, nil
}

// GenerateID returns the first letter not yet used as the first character of
// an existing id, followed by two random characters.
func GenerateID(existing []string, rnd *rand.Rand) (string, error) {
	used := make(map[byte]bool, len(existing))
	for _, id := range existing {
		if id != "" {
			used[id[0]] = true
		}
	}
	for c := byte('a'); c <= 'z'; c++ {
		if used[c] {
			continue
		}
		return string([]byte{c, idAlphabet[rnd.IntN(len(idAlphabet))], idAlphabet[rnd.IntN(len(idAlphabet))]}), nil
	}
	return "", fmt.Errorf("all 26 session letters are in use")
}

// Resolver resolves and manages bridge sessions on a multiplexer.
type Resolver struct {
	Mux    mux.Multiplexer
	Getenv func(string) string
	Rand   *rand.Rand
}

// NewResolver returns a resolver reading the environment.
func NewResolver(m mux.Multiplexer) *Resolver {
	return &Resolver{Mux: m, Getenv: os.Getenv}
}

// Resolve returns the live session for explicit (or $TB_SESSION). A session
// that does not exist is a NoTarget error, reported before any keystrokes
// are sent.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (model.Session, error) {
	id, err := ResolveID(explicit, r.Getenv)
	if err != nil {
		return model.Session{}, err
	}
	name := TmuxName(id)
	ok, err := r.Mux.HasSession(ctx, name)
	if err != nil {
		return model.Session{}, model.Errorf(model.KindTransport, "checking session '%s'", id).Wrap(err)
	}
	if !ok {
		return model.Session{}, model.Errorf(model.KindNoTarget, "Session '%s' not found.", id).
			WithHint("Start a new session with: tb start")
	}
	return model.Session{ID: id, Name: name}, nil
}

// List returns all bridge sessions.
func (r *Resolver) List(ctx context.Context) ([]model.Session, error) {
	all, err := r.Mux.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var sessions []model.Session
	for _, s := range all {
		if id, ok := IDFromName(s.Name); ok {
			s.ID = id
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// Create makes a new bridge session. An empty id generates one; an
// explicit id must not already exist.
func (r *Resolver) Create(ctx context.Context, id string) (model.Session, error) {
	if id != "" {
		if !validIDRe.MatchString(id) {
			return model.Session{}, model.Errorf(model.KindUsage, "Invalid session id %q.", id)
		}
		ok, err := r.Mux.HasSession(ctx, TmuxName(id))
		if err != nil {
			return model.Session{}, err
		}
		if ok {
			return model.Session{}, model.Errorf(model.KindUsage, "Session '%s' already exists.", id)
		}
	} else {
		existing, err := r.List(ctx)
		if err != nil {
			return model.Session{}, err
		}
		ids := make([]string, 0, len(existing))
		for _, s := range existing {
			ids = append(ids, s.ID)
		}
		rnd := r.Rand
		if rnd == nil {
			rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		id, err = GenerateID(ids, rnd)
		if err != nil {
			return model.Session{}, err
		}
	}

	name := TmuxName(id)
	if err := r.Mux.NewSession(ctx, name); err != nil {
		return model.Session{}, err
	}
	return model.Session{ID: id, Name: name}, nil
}

// Close destroys a bridge session.
func (r *Resolver) Close(ctx context.Context, explicit string) (model.Session, error) {
	s, err := r.Resolve(ctx, explicit)
	if err != nil {
		return model.Session{}, err
	}
	if err := r.Mux.KillSession(ctx, s.Name); err != nil {
		return model.Session{}, err
	}
	return s, nil
}
