package repl

import "testing"

func TestPrompt_Find(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		text    string
		from    int
		wantOK  bool
		wantPos int
	}{
		{name: "python at end", pattern: ">>> ", text: "x\n>>>", wantOK: true, wantPos: 2},
		{name: "not at end", pattern: ">>>", text: ">>> 1+1\n2", wantOK: false},
		{name: "before from", pattern: ">>>", text: ">>>", from: 1, wantOK: false},
		{name: "anchored line", pattern: `^In \[\d+\]:`, text: "Out[1]: 2\n\nIn [2]:", wantOK: true, wantPos: 11},
		{name: "trailing dollar", pattern: `irb\(main\):\d+:0> $`, text: "irb(main):001:0>", wantOK: true},
		{name: "escaped dollar kept", pattern: `\$`, text: "user@host:~$", wantOK: true, wantPos: 11},
		{name: "mid output false", pattern: "> ", text: "> quoted\nmore", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompilePrompt(tt.pattern)
			if err != nil {
				t.Fatalf("CompilePrompt: %v", err)
			}
			start, _, ok := p.Find(tt.text, tt.from)
			if ok != tt.wantOK {
				t.Fatalf("ok: got %v, want %v", ok, tt.wantOK)
			}
			if ok && tt.wantPos != 0 && start != tt.wantPos {
				t.Errorf("start: got %d, want %d", start, tt.wantPos)
			}
		})
	}
}

func TestCompilePrompt_Invalid(t *testing.T) {
	for _, p := range []string{"", "   ", "(["} {
		if _, err := CompilePrompt(p); err == nil {
			t.Errorf("CompilePrompt(%q): expected error", p)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("\x1b[1m>>> \x1b[0m1+1   \r\n2\t\n>>> \n\n\n")
	want := ">>> 1+1\n2\n>>>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRemoveEcho(t *testing.T) {
	tests := []struct {
		name, body, expr, want string
	}{
		{"single line", " 1+1\n2\n", "1+1", "2"},
		{"no echo", "2\n", "1+1", "2"},
		{"continuation prompts", " def f():\n...     return 1\n...\n", "def f():\n    return 1\n\n", ""},
		{"output resembling input kept", " x\nx\n", "x", "x"},
		{"empty expr", "\nresult\n", "", "result"},
	}
	for _, tt := range tests {
		if got := removeEcho(tt.body, tt.expr); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
