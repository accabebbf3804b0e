// Package marker wraps commands with start/end sentinels and extracts
// delimited results from captured pane text.
//
// A wrapped command prints TB_START_<id> before it runs and
// TB_END_<id>_<status> after it. The id is assembled from a shell variable
// when typed, so the echoed command line never contains either token
// literally; only the command's real output does.
package marker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TokenPrefix starts every sentinel.
const TokenPrefix = "TB"

// NewID returns a 128-bit random id rendered as 32 hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StartToken returns the start sentinel for id.
func StartToken(id string) string {
	return TokenPrefix + "_START_" + id
}

// EndPrefix returns the end sentinel for id without its status suffix.
func EndPrefix(id string) string {
	return TokenPrefix + "_END_" + id + "_"
}

// EndToken returns the end sentinel for id carrying status.
func EndToken(id string, status int) string {
	return fmt.Sprintf("%s%d", EndPrefix(id), status)
}

// Wrap returns the text to type into a shell so that command runs verbatim
// between the two sentinels. Newlines and semicolons in command are kept
// as-is; the group braces make the shell read all of it before running any.
// The status of the last command in the group lands in __tb_rc.
func Wrap(id, command string) string {
	command = strings.TrimRight(command, "\n")
	return fmt.Sprintf(
		"__tb_id=%s; echo \"%s_START_${__tb_id}\"; { %s\n}; __tb_rc=$?; echo \"%s_END_${__tb_id}_${__tb_rc}\"",
		id, TokenPrefix, command, TokenPrefix,
	)
}

// CommandFromArgs joins CLI arguments into shell text. A single argument
// is taken as shell text verbatim. Multiple arguments are each double-quote
// escaped so they reach the program exactly as given.
func CommandFromArgs(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = DoubleQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// DoubleQuote wraps s in double quotes, escaping the characters the shell
// still interprets inside them.
func DoubleQuote(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`$`, `\$`,
		"`", "\\`",
		`"`, `\"`,
		`!`, `\!`,
	)
	return `"` + r.Replace(s) + `"`
}
