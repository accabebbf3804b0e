package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux/muxtest"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolveID(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		want     string
		wantKind model.ErrorKind
	}{
		{name: "explicit wins", explicit: "abc", env: map[string]string{EnvSession: "xyz"}, want: "abc"},
		{name: "env fallback", env: map[string]string{EnvSession: "xyz"}, want: "xyz"},
		{name: "neither is usage error", wantKind: model.KindUsage},
		{name: "invalid id", explicit: "a:b", wantKind: model.KindUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveID(tt.explicit, envMap(tt.env))
			if tt.wantKind != "" {
				var be *model.Error
				if !errors.As(err, &be) || be.Kind != tt.wantKind {
					t.Fatalf("error: got %v, want kind %q", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveID_MessageTellsWhatToDo(t *testing.T) {
	_, err := ResolveID("", envMap(nil))
	if err == nil || !strings.Contains(err.Error(), "TB_SESSION") || !strings.Contains(err.Error(), "--session") {
		t.Errorf("message should mention TB_SESSION and --session, got %v", err)
	}
}

func TestResolve_MissingSessionIsNoTarget(t *testing.T) {
	t.Setenv(EnvTestMode, "")
	f := muxtest.New()
	r := &Resolver{Mux: f, Getenv: envMap(map[string]string{EnvSession: "zzz"})}

	_, err := r.Resolve(context.Background(), "")
	if !errors.Is(err, model.ErrNoTarget) {
		t.Fatalf("got %v, want NoTarget", err)
	}
	if !strings.Contains(err.Error(), "tb start") {
		t.Errorf("message should mention tb start, got %q", err.Error())
	}
	if n := len(f.CallsTo("SendText")); n != 0 {
		t.Errorf("no keystrokes may be sent before the target is known, got %d", n)
	}
}

func TestResolve_Existing(t *testing.T) {
	t.Setenv(EnvTestMode, "1")
	f := muxtest.New()
	f.AddSession("tbtest-abc")
	r := &Resolver{Mux: f, Getenv: envMap(nil)}

	s, err := r.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.ID != "abc" || s.Name != "tbtest-abc" {
		t.Errorf("got %+v", s)
	}
}

func TestGenerateID(t *testing.T) {
	rnd := rand.New(rand.NewPCG(1, 2))

	id, err := GenerateID(nil, rnd)
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	if len(id) != 3 || id[0] != 'a' {
		t.Errorf("first id: got %q, want a?? form", id)
	}

	id, err = GenerateID([]string{"a12", "b7x", "dzz"}, rnd)
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	if id[0] != 'c' {
		t.Errorf("got %q, want first free letter c", id)
	}
	for _, c := range id[1:] {
		if !strings.ContainsRune(idAlphabet, c) {
			t.Errorf("unexpected character %q in %q", c, id)
		}
	}

	var all []string
	for c := 'a'; c <= 'z'; c++ {
		all = append(all, string(c)+"00")
	}
	if _, err := GenerateID(all, rnd); err == nil {
		t.Error("expected error when all letters are used")
	}
}

func TestCreateAndList(t *testing.T) {
	t.Setenv(EnvTestMode, "1")
	f := muxtest.New()
	f.AddSession("tbtest-a01")
	f.AddSession("unrelated")
	r := &Resolver{Mux: f, Getenv: envMap(nil), Rand: rand.New(rand.NewPCG(3, 4))}

	s, err := r.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID[0] != 'b' {
		t.Errorf("generated id %q: want first letter b", s.ID)
	}

	if _, err := r.Create(context.Background(), "a01"); err == nil {
		t.Error("expected error creating an existing explicit id")
	}

	sessions, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 bridge sessions, got %d", len(sessions))
	}

	if _, err := r.Close(context.Background(), s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, _ := f.HasSession(context.Background(), s.Name); ok {
		t.Error("session still exists after Close")
	}
}

func TestIDFromName(t *testing.T) {
	t.Setenv(EnvTestMode, "")
	if id, ok := IDFromName("tb-abc"); !ok || id != "abc" {
		t.Errorf("IDFromName(tb-abc): got %q, %v", id, ok)
	}
	if _, ok := IDFromName("tb-"); ok {
		t.Error("bare prefix should not be a bridge session")
	}
	if _, ok := IDFromName("work"); ok {
		t.Error("unrelated session should not be a bridge session")
	}
}

func TestAcquire_SecondHolderIsBusy(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "locks"), "tb-abc", "%0")
	if strings.Contains(filepath.Base(path), "%") {
		t.Errorf("lock path should not contain %%: %s", path)
	}

	first, err := Acquire(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	if _, err := Acquire(context.Background(), path, 0); !errors.Is(err, ErrBusy) {
		t.Errorf("non-blocking Acquire: got %v, want ErrBusy", err)
	}
	if _, err := Acquire(context.Background(), path, 120*time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Errorf("bounded Acquire: got %v, want ErrBusy", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := Acquire(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = second.Release()
}
