// Package cli implements the interactive terminal front end of the chat
// client: a line-oriented command interpreter over the window manager and a
// plain-text renderer for session snapshots.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a REPL command.
type Kind int

const (
	// KindSay sends the line as a message to the active counterpart.
	KindSay Kind = iota
	KindOpen
	KindMinimize
	KindExpand
	KindClose
	KindList
	KindWindows
	KindHelp
	KindQuit
)

// Command is one parsed input line.
type Command struct {
	Kind Kind
	Arg  string
}

// ErrUnknownCommand is returned for a slash command that does not exist.
var ErrUnknownCommand = errors.New("unknown command")

var commands = map[string]struct {
	kind    Kind
	needArg bool
}{
	"/open":    {KindOpen, true},
	"/min":     {KindMinimize, true},
	"/expand":  {KindExpand, true},
	"/close":   {KindClose, true},
	"/list":    {KindList, false},
	"/windows": {KindWindows, false},
	"/help":    {KindHelp, false},
	"/quit":    {KindQuit, false},
}

// Parse interprets a line of input. Lines not starting with "/" are
// messages; "//" escapes a leading slash. Blank lines parse to a KindSay
// command with empty text, which callers ignore.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: KindSay, Arg: trimmed[1:]}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: KindSay, Arg: trimmed}, nil
	}

	name, arg, _ := strings.Cut(trimmed, " ")
	def, ok := commands[strings.ToLower(name)]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	arg = strings.TrimSpace(arg)
	if def.needArg && arg == "" {
		return Command{}, fmt.Errorf("%s needs a user id", name)
	}
	return Command{Kind: def.kind, Arg: arg}, nil
}

const helpText = `Commands:
  /open <user>     open a chat window and focus it
  /min <user>      minimize a window
  /expand <user>   expand a window and focus it
  /close <user>    close a window
  /list            list contacts with unread counts
  /windows         list open windows
  /quit            leave
Anything else is sent to the focused contact.`
