// Package render formats received messages and session banners for a
// terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/remdbg/remdbg/pkg/wire"
)

// Output formats.
const (
	FormatPlain      = "plain"
	FormatStructured = "structured"
)

// Printer writes messages to out and banners to diag. It is safe for
// concurrent use.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	diag   io.Writer
	format string
	color  bool
	outSt  styles
	diagSt styles
}

// New returns a Printer. With color set, styling is applied only where the
// writer is a terminal that supports it.
func New(out, diag io.Writer, format string, color bool) *Printer {
	if format != FormatStructured {
		format = FormatPlain
	}
	return &Printer{
		out:    out,
		diag:   diag,
		format: format,
		color:  color,
		outSt:  newStyles(lipgloss.NewRenderer(out)),
		diagSt: newStyles(lipgloss.NewRenderer(diag)),
	}
}

func (p *Printer) paint(st lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return st.Render(s)
}

// Message writes m in the configured format.
func (p *Printer) Message(m wire.Message) error {
	var b strings.Builder
	if p.format == FormatStructured {
		p.structured(&b, m)
	} else {
		p.plain(&b, m)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.out, b.String())
	return err
}

// plain writes "T:<ms> THR:<thread> <file>:<line>" followed by the text on
// the same line, or on the next one when the text spans several lines. A
// value dump gets one "  <expr> = <value>" line per pair.
func (p *Printer) plain(b *strings.Builder, m wire.Message) {
	st := p.outSt
	b.WriteString(p.paint(st.header, fmt.Sprintf("T:%d THR:%s", m.Timestamp, m.ThreadID)))
	b.WriteByte(' ')
	b.WriteString(p.paint(st.location, m.Location.String()))

	switch pl := m.Payload.(type) {
	case wire.Text:
		text := string(pl)
		if strings.Contains(strings.TrimSuffix(text, "\n"), "\n") {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSuffix(text, "\n"))
		b.WriteByte('\n')
	case wire.Values:
		b.WriteByte('\n')
		for _, pair := range pl {
			fmt.Fprintf(b, "  %s = %s\n", p.paint(st.expr, pair.Expr), p.paint(st.value, pair.Value))
		}
	default:
		b.WriteByte('\n')
	}
}

// structured writes an indented field dump of m.
func (p *Printer) structured(b *strings.Builder, m wire.Message) {
	st := p.outSt
	field := func(name, value string) {
		fmt.Fprintf(b, "    %s: %s,\n", p.paint(st.expr, name), value)
	}

	b.WriteString("Message {\n")
	field("time", fmt.Sprintf("%d", m.Timestamp))
	field("thread_id", fmt.Sprintf("%q", m.ThreadID))
	field("file", fmt.Sprintf("%q", m.Location.File))
	field("line", fmt.Sprintf("%d", m.Location.Line))

	switch pl := m.Payload.(type) {
	case wire.Text:
		field("payload", fmt.Sprintf("Text(%q)", string(pl)))
	case wire.Values:
		b.WriteString("    " + p.paint(st.expr, "payload") + ": Values [\n")
		for _, pair := range pl {
			fmt.Fprintf(b, "        (%q, %s),\n", pair.Expr, p.paint(st.value, fmt.Sprintf("%q", pair.Value)))
		}
		b.WriteString("    ],\n")
	}
	b.WriteString("}\n")
}

// Trying announces a connection attempt or a listening address.
func (p *Printer) Trying(what string) error {
	return p.banner(p.diagSt.header, "Trying to connect to "+what+"...")
}

// Listening announces that the viewer waits for producers on addr.
func (p *Printer) Listening(addr string) error {
	return p.banner(p.diagSt.header, "Listening on "+addr+"...")
}

// Connected prints the connect banner for addr.
func (p *Printer) Connected(addr string) error {
	return p.banner(p.diagSt.up, "Connected to "+addr)
}

// Disconnected prints the disconnect banner for addr. A non-nil err is the
// reason the session ended early.
func (p *Printer) Disconnected(addr string, err error) error {
	text := "Disconnected from " + addr
	if err != nil {
		text += " (" + err.Error() + ")"
	}
	return p.banner(p.diagSt.down, text)
}

// Error prints a failure banner.
func (p *Printer) Error(err error) error {
	return p.banner(p.diagSt.failure, err.Error())
}

// Exiting prints the final banner.
func (p *Printer) Exiting() error {
	return p.banner(p.diagSt.header, "Exiting...")
}

func (p *Printer) banner(st lipgloss.Style, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.diag, p.paint(st, "*** "+text+" ***"))
	return err
}
