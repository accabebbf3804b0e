// Package model holds the types shared by the bridge components: panes,
// sessions, invocations, captured results, background tasks and REPL state.
package model

import (
	"fmt"
	"time"
)

// MaxTasks is the number of background task slots per session.
const MaxTasks = 6

// Pane represents a terminal multiplexer pane.
type Pane struct {
	// ID is the multiplexer's stable pane identifier (e.g., "%12" for tmux).
	ID string `json:"id"`
	// Target is the fully qualified pane identifier (e.g., "tb-abc:0.0").
	Target string `json:"target"`
	// Session is the multiplexer session name.
	Session string `json:"session"`
	// Window is the window index.
	Window int `json:"window"`
	// Pane is the pane index.
	Pane int `json:"pane"`
	// PID is the pane's shell process ID.
	PID int `json:"pid"`
	// Command is the current foreground command (e.g., "bash", "python3").
	Command string `json:"command"`
	// Options holds user pane options (names starting with "@") that were requested.
	Options map[string]string `json:"options,omitempty"`
}

// Session is a bridge session: a multiplexer session dedicated to shared
// human/agent use.
type Session struct {
	// ID is the short, human-speakable identifier (e.g., "abc").
	ID string `json:"id"`
	// Name is the backing multiplexer session name (e.g., "tb-abc").
	Name string `json:"name"`
	// CreatedAt is when the multiplexer session was created.
	CreatedAt time.Time `json:"created_at"`
	// Attached reports whether a human client is attached.
	Attached bool `json:"attached"`
}

// Invocation is one marker-delimited command submission.
type Invocation struct {
	// MarkerID is the unique id embedded in the start and end tokens.
	MarkerID string `json:"marker_id"`
	// Command is the command text exactly as it is run in the pane.
	Command string `json:"command"`
	// Target is the pane the command was typed into.
	Target string `json:"target"`
	// SubmittedAt is when the keystrokes were sent.
	SubmittedAt time.Time `json:"submitted_at"`
	// IdleTimeout is the maximum silence before escalation.
	IdleTimeout time.Duration `json:"idle_timeout"`
	// OverallTimeout is the maximum total wait before escalation.
	OverallTimeout time.Duration `json:"overall_timeout"`
}

// Result is the captured and extracted output of an invocation.
type Result struct {
	// Raw is the pane capture the result was extracted from.
	Raw string `json:"-"`
	// Stripped is Raw with control sequences removed.
	Stripped string `json:"-"`
	// Body is the command output, truncated if it exceeded the display budget.
	Body string `json:"body"`
	// ExitCode is the command's exit status parsed from the end token.
	ExitCode int `json:"exit_code"`
	// Found reports whether the end token was present.
	Found bool `json:"found"`
	// Truncated reports whether Body had lines removed.
	Truncated bool `json:"truncated"`
	// Lines is the number of lines in the untruncated body.
	Lines int `json:"lines"`
	// Head and Tail are the kept line slices when Truncated is set.
	Head []string `json:"head,omitempty"`
	Tail []string `json:"tail,omitempty"`
}

// TaskState is the observed state of a background task.
type TaskState string

const (
	TaskRunning     TaskState = "running"
	TaskComplete    TaskState = "complete"
	TaskUnreachable TaskState = "unreachable"
)

// Task is a background command running in its own split pane.
type Task struct {
	// ID is the task id, "t1" through "t6".
	ID string `json:"id"`
	// PaneID is the multiplexer pane the task runs in.
	PaneID string `json:"pane_id"`
	// MarkerID is the marker id the task command was wrapped with.
	MarkerID string `json:"marker_id"`
	// Command is the launched command text.
	Command string `json:"command"`
	// Row and Column are the task's coordinate in the split layout.
	Row    int `json:"row"`
	Column int `json:"column"`
	// State is the last observed state.
	State TaskState `json:"state"`
	// ExitCode is valid when State is TaskComplete.
	ExitCode int `json:"exit_code"`
	// Output is the (possibly truncated) output observed so far.
	Output string `json:"output,omitempty"`
	// Truncated reports whether Output had lines removed.
	Truncated bool `json:"truncated,omitempty"`
}

// TaskID returns the task id for a 0-based slot index.
func TaskID(slot int) string {
	return fmt.Sprintf("t%d", slot+1)
}

// TaskSlot returns the 0-based slot index for a task id, or -1 if the id is
// not one of t1..t6.
func TaskSlot(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "t%d", &n); err != nil {
		return -1
	}
	if n < 1 || n > MaxTasks || TaskID(n-1) != id {
		return -1
	}
	return n - 1
}

// ReplState is the persisted state of a REPL running in a session's main pane.
type ReplState struct {
	// Session is the bridge session id the REPL belongs to.
	Session string `json:"session"`
	// Target is the pane the REPL runs in.
	Target string `json:"target"`
	// Prompt is the prompt-detection regular expression.
	Prompt string `json:"prompt"`
	// Command is the launch command.
	Command string `json:"command"`
	// ExitCommand is sent to leave the REPL.
	ExitCommand string `json:"exit_command"`
	// Shell is the pane's foreground command before the REPL started.
	Shell string `json:"shell"`
	// Started is set once the first prompt was observed.
	Started bool `json:"started"`
	// Baseline is the offset in the normalized capture just past the last
	// observed prompt. The next turn's output starts there.
	Baseline int `json:"baseline"`
	// Turns counts completed evaluations.
	Turns int `json:"turns"`
	// StartedAt is when the REPL was launched.
	StartedAt time.Time `json:"started_at"`
}
