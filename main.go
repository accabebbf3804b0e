package main

import "github.com/timvw/tmux-bridge/cmd"

func main() {
	cmd.Execute()
}
