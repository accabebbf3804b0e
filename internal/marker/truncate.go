package marker

import (
	"fmt"
	"strings"
)

// Truncation is the outcome of applying a first/last line budget.
type Truncation struct {
	Body      string
	Lines     int
	Truncated bool
	Head      []string
	Tail      []string
}

// TruncationLine is the marker inserted in place of dropped lines.
func TruncationLine(dropped int) string {
	return fmt.Sprintf("... (%d lines truncated) ...", dropped)
}

// Truncate keeps the first and last lines of body when it has more than
// first+last lines, replacing the middle with one TruncationLine. Bodies
// that fit are returned unchanged.
func Truncate(body string, first, last int) Truncation {
	if first < 0 {
		first = 0
	}
	if last < 0 {
		last = 0
	}
	if body == "" {
		return Truncation{}
	}
	lines := strings.Split(body, "\n")
	n := len(lines)
	if n <= first+last {
		return Truncation{Body: body, Lines: n}
	}

	head := lines[:first]
	tail := lines[n-last:]
	out := make([]string, 0, first+last+1)
	out = append(out, head...)
	out = append(out, TruncationLine(n-first-last))
	out = append(out, tail...)
	return Truncation{
		Body:      strings.Join(out, "\n"),
		Lines:     n,
		Truncated: true,
		Head:      head,
		Tail:      tail,
	}
}
