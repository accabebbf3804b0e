package repl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/timvw/tmux-bridge/internal/ansi"
)

// Prompt detects a REPL prompt at the end of captured text.
type Prompt struct {
	re *regexp.Regexp
}

// CompilePrompt compiles a caller-supplied prompt pattern. The pattern is
// matched in multi-line mode and must end the (whitespace-trimmed) text.
// Trailing spaces (and a trailing "$") in the pattern are ignored, because
// captures drop trailing spaces and the match is anchored at the end anyway.
func CompilePrompt(pattern string) (*Prompt, error) {
	p := strings.TrimRight(pattern, " ")
	if strings.HasSuffix(p, "$") && !strings.HasSuffix(p, `\$`) {
		p = strings.TrimRight(strings.TrimSuffix(p, "$"), " ")
	}
	if p == "" {
		return nil, fmt.Errorf("empty prompt pattern")
	}
	re, err := regexp.Compile(`(?m)(?:` + p + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt pattern %q: %w", pattern, err)
	}
	return &Prompt{re: re}, nil
}

// Find returns the start and end offsets of the prompt that ends text, if
// it begins at or after from.
func (p *Prompt) Find(text string, from int) (start, end int, ok bool) {
	loc := p.re.FindStringIndex(text)
	if loc == nil || loc[0] < from {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

// Normalize strips control sequences and trailing whitespace from each
// line and from the end of text. All REPL offsets refer to this form.
func Normalize(raw string) string {
	lines := strings.Split(ansi.Strip(raw), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// removeEcho drops the leading lines of body that echo expr. Each echoed
// line must end with the corresponding expression line; continuation
// prompts in front of it, and bare continuation lines after it, go too.
func removeEcho(body, expr string) string {
	body = strings.TrimPrefix(body, "\n")
	exprLines := strings.Split(strings.TrimRight(expr, "\n"), "\n")
	bodyLines := strings.Split(body, "\n")

	n := 0
	for n < len(exprLines) && n < len(bodyLines) {
		want := strings.TrimSpace(exprLines[n])
		if want == "" {
			if strings.TrimSpace(bodyLines[n]) != "" && !isContinuation(bodyLines[n]) {
				break
			}
		} else if !strings.HasSuffix(strings.TrimRight(bodyLines[n], " \t"), want) {
			break
		}
		n++
	}
	if n > 0 {
		for n < len(bodyLines) && isContinuation(bodyLines[n]) {
			n++
		}
	}
	return strings.Trim(strings.Join(bodyLines[n:], "\n"), "\n")
}

// isContinuation reports whether line is only a continuation prompt such as
// "..." or ">".
func isContinuation(line string) bool {
	l := strings.TrimSpace(line)
	return l == "..." || l == ">" || l == "?>"
}
