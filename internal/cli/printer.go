package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/session"
)

// Printer turns the stream of session snapshots into terminal output. It
// prints the whole conversation when the focus changes and only the
// differences afterwards. Snapshots older than the last one seen are ignored.
type Printer struct {
	w     io.Writer
	actor string

	mu        sync.Mutex
	started   bool
	version   uint64
	activeID  string
	state     session.State
	connected bool
	typing    bool
	seen      map[string]domain.Status
}

// NewPrinter creates a printer writing to w for actor.
func NewPrinter(w io.Writer, actor string) *Printer {
	return &Printer{w: w, actor: actor, seen: make(map[string]domain.Status)}
}

// Show prints what changed between the last snapshot and snap.
func (p *Printer) Show(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started && snap.Version <= p.version {
		return
	}
	first := !p.started
	p.started = true
	p.version = snap.Version

	if first || snap.Connected != p.connected {
		if snap.Connected {
			fmt.Fprintln(p.w, "-- connected --")
		} else if !first {
			fmt.Fprintln(p.w, "-- connection lost, reconnecting --")
		}
		p.connected = snap.Connected
	}

	activeID := ""
	if snap.Active != nil {
		activeID = snap.Active.ID
	}
	if activeID != p.activeID || snap.State != p.state {
		p.activeID = activeID
		p.state = snap.State
		p.typing = false
		if activeID != "" {
			RenderConversation(p.w, p.actor, snap)
		}
		p.remember(snap.Messages)
		return
	}
	if activeID == "" {
		return
	}

	for _, m := range snap.Messages {
		key := messageKey(m)
		prev, known := p.seen[key]
		switch {
		case !known:
			fmt.Fprintln(p.w, formatMessage(p.actor, m))
		case m.Sender == p.actor && m.Status != prev:
			fmt.Fprintf(p.w, "   %s: %s\n", statusMarks[m.Status], m.Text)
		}
		p.seen[key] = m.Status
	}

	typing := snap.IsTyping(activeID)
	if typing && !p.typing {
		fmt.Fprintf(p.w, "   %s is typing...\n", snap.Active.DisplayName())
	}
	p.typing = typing
}

func (p *Printer) remember(msgs []domain.Message) {
	p.seen = make(map[string]domain.Status, len(msgs))
	for _, m := range msgs {
		p.seen[messageKey(m)] = m.Status
	}
}

// messageKey identifies a message across the provisional-to-confirmed swap.
func messageKey(m domain.Message) string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return m.ID
}
