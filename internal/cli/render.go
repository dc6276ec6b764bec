package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/session"
	"github.com/vedant-sarda/atorix-chat/internal/windows"
)

// statusMarks are the tick marks shown after outgoing messages.
var statusMarks = map[domain.Status]string{
	domain.StatusSent:      "✓",
	domain.StatusDelivered: "✓✓",
	domain.StatusRead:      "✓✓ read",
}

// RenderConversation writes the active conversation of snap.
func RenderConversation(w io.Writer, actor string, snap session.Snapshot) {
	if snap.Active == nil {
		fmt.Fprintln(w, "-- no conversation open (/open <user>) --")
		return
	}

	header := snap.Active.DisplayName()
	switch {
	case snap.IsTyping(snap.Active.ID):
		header += " (typing...)"
	case snap.IsOnline(snap.Active.ID):
		header += " (online)"
	}
	if !snap.Connected {
		header += " [offline]"
	}
	fmt.Fprintf(w, "-- %s --\n", header)

	if snap.State == session.Loading {
		fmt.Fprintln(w, "   loading...")
		return
	}
	for _, m := range snap.Messages {
		fmt.Fprintln(w, formatMessage(actor, m))
	}
}

func formatMessage(actor string, m domain.Message) string {
	ts := m.CreatedAt.Local().Format("15:04")
	if m.Sender == actor {
		return fmt.Sprintf("[%s] me: %s  %s", ts, m.Text, statusMarks[m.Status])
	}
	return fmt.Sprintf("[%s] %s: %s", ts, m.Sender, m.Text)
}

// RenderContacts writes the contact list in display order.
func RenderContacts(w io.Writer, snap session.Snapshot) {
	if len(snap.Conversations) == 0 {
		fmt.Fprintln(w, "no contacts")
		return
	}
	for _, c := range snap.Conversations {
		var b strings.Builder
		if snap.IsOnline(c.CounterpartID) {
			b.WriteString("● ")
		} else {
			b.WriteString("○ ")
		}
		b.WriteString(c.Name)
		if c.Name != c.CounterpartID {
			fmt.Fprintf(&b, " <%s>", c.CounterpartID)
		}
		if c.Unread > 0 {
			fmt.Fprintf(&b, " (%d)", c.Unread)
		}
		if c.LastMessage != "" {
			fmt.Fprintf(&b, " - %s", c.LastMessage)
		}
		fmt.Fprintln(w, b.String())
	}
}

// RenderWindows writes the open windows and the unread badge.
func RenderWindows(w io.Writer, open []windows.Window, badge windows.Badge, snap session.Snapshot) {
	if badge.Label != "" {
		fmt.Fprintf(w, "unread: %s\n", badge.Label)
	}
	if len(open) == 0 {
		fmt.Fprintln(w, "no open windows")
		return
	}
	for _, win := range open {
		state := "open"
		if win.Minimized {
			state = "minimized"
		}
		focus := ""
		if snap.Active != nil && snap.Active.ID == win.User.ID {
			focus = " *"
		}
		fmt.Fprintf(w, "%s [%s]%s\n", win.User.DisplayName(), state, focus)
	}
}
