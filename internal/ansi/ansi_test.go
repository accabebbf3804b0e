package ansi

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain text", input: "hello world\n", want: "hello world\n"},
		{name: "empty", input: "", want: ""},
		{name: "sgr color", input: "\x1b[31mred\x1b[0m text", want: "red text"},
		{name: "private csi", input: "\x1b[?2004hprompt$ \x1b[?2004l", want: "prompt$ "},
		{name: "kitty keyboard csi", input: "a\x1b[>1ub", want: "ab"},
		{name: "cursor movement", input: "x\x1b[2;5Hy\x1b[K", want: "xy"},
		{name: "osc title", input: "\x1b]0;user@host: ~\x07$ ls", want: "$ ls"},
		{name: "osc hyperlink", input: "\x1b]8;;http://x\x07link\x1b]8;;\x07", want: "link"},
		{name: "two byte escape", input: "\x1b7line\x1b=", want: "line"},
		{name: "crlf", input: "one\r\ntwo\r\n", want: "one\ntwo\n"},
		{name: "lone cr deleted", input: "50%\r100%\n", want: "50%100%\n"},
		{name: "trailing cr", input: "done\r", want: "done"},
		{name: "bell and backspace", input: "a\x07b\x08c", want: "abc"},
		{name: "tab kept", input: "a\tb\n", want: "a\tb\n"},
		{name: "unicode kept", input: "\x1b[1mhéllo ✓\x1b[0m", want: "héllo ✓"},
		{name: "escape before newline keeps newline", input: "a\x1b\nb", want: "a\nb"},
		{name: "escape before multibyte keeps rune", input: "a\x1bé✓\n", want: "aé✓\n"},
		{name: "charset designation", input: "\x1b(Bplain\x1b)0", want: "plain"},
		{name: "del removed", input: "a\x7fb", want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Strip(tt.input)
			if got != tt.want {
				t.Errorf("Strip(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStrip_Idempotent(t *testing.T) {
	inputs := []string{
		"\x1b\x1b[31mx",
		"\x1b[\x1b[0mm",
		"\x1b]0;unterminated title",
		"\r\r\n\r",
		"TB_START_abc\n\x1b[32mok\x1b[0m\r\nTB_END_abc_0\n",
		"\x1b\x1b\x1b",
		"\x1b\xc3\xa9\x1b(",
		"plain",
	}
	for _, in := range inputs {
		once := Strip(in)
		twice := Strip(once)
		if once != twice {
			t.Errorf("Strip not idempotent for %q: once %q, twice %q", in, once, twice)
		}
	}
}
