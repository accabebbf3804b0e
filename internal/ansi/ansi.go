// Package ansi removes terminal control structure from captured pane text.
//
// Every consumer that pattern-matches captured text (marker extraction,
// prompt detection, task checks) runs it through Strip first so that color
// codes and cursor movement emitted by the shell never split a token.
package ansi

import (
	"regexp"
	"strings"
)

var (
	// CSI: ESC [ then an optional private marker, parameters, one final letter.
	csiRe = regexp.MustCompile(`\x1b\[[<>=?]?[0-9;]*[A-Za-z]`)
	// OSC: ESC ] up to and including BEL.
	oscRe = regexp.MustCompile(`\x1b\][^\x07]*\x07`)
	// Other escapes: ESC with ASCII intermediate bytes and one final byte,
	// as in ESC 7 or ESC ( B. A non-ASCII or control byte after ESC ends
	// nothing; the lone ESC is dropped by stripControl and the byte kept.
	escRe = regexp.MustCompile(`\x1b[\x20-\x2f]*[\x30-\x5a\x5c\x5e-\x7e]`)
)

// Strip returns s with control sequences removed. Line breaks and printable
// content are preserved. Strip is idempotent.
func Strip(s string) string {
	if s == "" {
		return s
	}
	s = csiRe.ReplaceAllString(s, "")
	s = oscRe.ReplaceAllString(s, "")
	s = escRe.ReplaceAllString(s, "")
	s = normalizeCR(s)
	return stripControl(s)
}

// normalizeCR turns CRLF into LF and deletes any remaining lone CR, which
// joins a progress line with whatever was written after it.
func normalizeCR(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// stripControl drops C0 control bytes (and DEL) except tab and newline.
func stripControl(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if isControl(s[i]) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if !isControl(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isControl(c byte) bool {
	if c == '\t' || c == '\n' {
		return false
	}
	return c < 0x20 || c == 0x7f
}
