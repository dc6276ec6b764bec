package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/session"
	"github.com/vedant-sarda/atorix-chat/internal/windows"
)

// Windows is the part of the window manager the REPL drives.
type Windows interface {
	OpenChat(ctx context.Context, user domain.User) error
	Minimize(userID string) bool
	Close(userID string) bool
	Windows() []windows.Window
	UnreadBadge() windows.Badge
	Send(receiverID, text string) (domain.Message, error)
}

// Snapshotter returns the current session snapshot.
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// REPL reads commands line by line and executes them.
type REPL struct {
	win    Windows
	sess   Snapshotter
	out    io.Writer
	logger *slog.Logger
}

// NewREPL creates a REPL writing its replies to out.
func NewREPL(win Windows, sess Snapshotter, out io.Writer) *REPL {
	return &REPL{
		win:    win,
		sess:   sess,
		out:    out,
		logger: slog.Default().With("service", "repl"),
	}
}

// Run executes lines from in until EOF, /quit or ctx is canceled.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(r.out, "type /help for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one line and reports whether the REPL should stop.
func (r *REPL) Exec(ctx context.Context, line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		fmt.Fprintln(r.out, err)
		return false
	}

	switch cmd.Kind {
	case KindSay:
		r.say(cmd.Arg)
	case KindOpen:
		r.open(ctx, cmd.Arg)
	case KindExpand:
		if !r.hasWindow(cmd.Arg) {
			fmt.Fprintf(r.out, "no window for %s\n", cmd.Arg)
			break
		}
		r.open(ctx, cmd.Arg)
	case KindMinimize:
		if !r.win.Minimize(cmd.Arg) {
			fmt.Fprintf(r.out, "no window for %s\n", cmd.Arg)
		}
	case KindClose:
		if !r.win.Close(cmd.Arg) {
			fmt.Fprintf(r.out, "no window for %s\n", cmd.Arg)
		}
	case KindList:
		RenderContacts(r.out, r.sess.Snapshot())
	case KindWindows:
		RenderWindows(r.out, r.win.Windows(), r.win.UnreadBadge(), r.sess.Snapshot())
	case KindHelp:
		fmt.Fprintln(r.out, helpText)
	case KindQuit:
		return true
	}
	return false
}

func (r *REPL) say(text string) {
	if text == "" {
		return
	}
	snap := r.sess.Snapshot()
	if !snap.InputEnabled() {
		fmt.Fprintln(r.out, "open a conversation first (/open <user>)")
		return
	}
	if _, err := r.win.Send(snap.Active.ID, text); err != nil {
		fmt.Fprintln(r.out, "not sent:", err)
	}
}

func (r *REPL) open(ctx context.Context, userID string) {
	user := domain.User{ID: userID}
	for _, c := range r.sess.Snapshot().Conversations {
		if c.CounterpartID == userID {
			user.Name = c.Name
			break
		}
	}
	if err := r.win.OpenChat(ctx, user); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Failed to open conversation", "user", userID, "error", err)
		fmt.Fprintln(r.out, "could not open conversation:", err)
	}
}

func (r *REPL) hasWindow(userID string) bool {
	for _, w := range r.win.Windows() {
		if w.User.ID == userID {
			return true
		}
	}
	return false
}
