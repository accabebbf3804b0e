package marker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/timvw/tmux-bridge/internal/ansi"
	"github.com/timvw/tmux-bridge/internal/model"
)

// Budget is the display budget for extracted bodies.
type Budget struct {
	First int
	Last  int
}

// DefaultBudget keeps the first and last 50 lines.
var DefaultBudget = Budget{First: 50, Last: 50}

// ScrolledOutLine heads a body whose start sentinel is no longer in the
// pane history, so its first lines are lost.
const ScrolledOutLine = "... (start of output scrolled out of history) ..."

// Extract strips raw and looks for the end sentinel of id. When it is
// absent the result has Found unset and a nil error. A present sentinel
// whose status is not an integer is an extraction error.
func Extract(raw, id string, budget Budget) (model.Result, error) {
	stripped := ansi.Strip(raw)
	res := model.Result{Raw: raw, Stripped: stripped}

	endPrefix := EndPrefix(id)
	endIdx := strings.LastIndex(stripped, endPrefix)
	if endIdx < 0 {
		return res, nil
	}

	code, err := parseStatus(stripped[endIdx+len(endPrefix):])
	if err != nil {
		return res, model.Errorf(model.KindExtraction, "malformed end marker %q", contextLine(stripped, endIdx)).
			Wrap(err).
			WithHint("This is a bug in tb. Include the captured output above when reporting it.").
			WithPartial(stripped)
	}

	body, ok := between(stripped[:endIdx], StartToken(id))
	res.Found = true
	res.ExitCode = code
	applyBudget(&res, body, budget)
	if !ok {
		res.Body = joinLines(ScrolledOutLine, res.Body)
		res.Truncated = true
	}
	return res, nil
}

// Partial returns the output printed so far after the start sentinel of
// id, for an invocation whose end sentinel has not appeared yet. Before the
// start sentinel is printed there is no output.
func Partial(raw, id string, budget Budget) model.Result {
	stripped := ansi.Strip(raw)
	res := model.Result{Raw: raw, Stripped: stripped}
	if body, ok := between(stripped, StartToken(id)); ok {
		applyBudget(&res, strings.TrimRight(body, "\n"), budget)
	}
	return res
}

// between returns the text after the last occurrence of start in s, and
// whether start was present. The rest of the start line and one final
// newline are dropped. If start scrolled out of history, all of s is
// returned.
func between(s, start string) (string, bool) {
	i := strings.LastIndex(s, start)
	if i < 0 {
		return strings.TrimSuffix(s, "\n"), false
	}
	body := s[i+len(start):]
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return "", true
	}
	return strings.TrimSuffix(body[nl+1:], "\n"), true
}

// parseStatus reads the decimal status that follows the end prefix. It must
// be followed by end of line, whitespace or end of text.
func parseStatus(rest string) (int, error) {
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no exit status")
	}
	if n < len(rest) && rest[n] != '\n' && rest[n] != ' ' && rest[n] != '\t' {
		return 0, fmt.Errorf("unexpected %q after exit status", rest[n])
	}
	code, err := strconv.Atoi(rest[:n])
	if err != nil {
		return 0, err
	}
	return code, nil
}

func joinLines(head, body string) string {
	if body == "" {
		return head
	}
	return head + "\n" + body
}

func contextLine(s string, at int) string {
	start := strings.LastIndexByte(s[:at], '\n') + 1
	end := strings.IndexByte(s[at:], '\n')
	if end < 0 {
		return s[start:]
	}
	return s[start : at+end]
}

func applyBudget(res *model.Result, body string, budget Budget) {
	t := Truncate(body, budget.First, budget.Last)
	res.Body = t.Body
	res.Lines = t.Lines
	res.Truncated = t.Truncated
	res.Head = t.Head
	res.Tail = t.Tail
}
