package delivery

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/format"
)

// framer renders the mode-specific wire framing around the engine's shared
// delivery loop.
type framer interface {
	contentType() string
	open(w io.Writer) error
	frame(w io.Writer, m *broker.Message) error
	ping(w io.Writer) error
	footer(w io.Writer) error
}

// plainFramer frames messages as template-rendered lines for persistent
// streaming and long-polling bodies.
type plainFramer struct {
	cfg Config
	tpl *format.Template
}

func (plainFramer) contentType() string { return "text/plain; charset=utf-8" }

func (f plainFramer) open(w io.Writer) error {
	if f.cfg.HeaderText == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "%s\r\n", f.cfg.HeaderText)
	return err
}

func (f plainFramer) frame(w io.Writer, m *broker.Message) error {
	if _, err := w.Write(f.tpl.Render(m)); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (f plainFramer) ping(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\r\n", f.cfg.PingText)
	return err
}

func (f plainFramer) footer(w io.Writer) error {
	if f.cfg.FooterText == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "%s\r\n", f.cfg.FooterText)
	return err
}

// eventSourceFramer frames messages per the event-stream syntax: id:/event:
// lines when the message carries them, data: with the rendered text, and a
// blank-line terminator. Header, footer and pings are comment lines.
type eventSourceFramer struct {
	cfg Config
	tpl *format.Template
}

func (eventSourceFramer) contentType() string { return "text/event-stream; charset=utf-8" }

func (f eventSourceFramer) open(w io.Writer) error {
	if f.cfg.HeaderText == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, ": %s\n\n", f.cfg.HeaderText)
	return err
}

func (f eventSourceFramer) frame(w io.Writer, m *broker.Message) error {
	if m.EventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", m.EventID); err != nil {
			return err
		}
	}
	if m.EventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", m.EventType); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", f.tpl.Render(m))
	return err
}

func (f eventSourceFramer) ping(w io.Writer) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", strconv.FormatInt(broker.PingWireID, 10))
	return err
}

func (f eventSourceFramer) footer(w io.Writer) error {
	if f.cfg.FooterText == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, ": %s\n\n", f.cfg.FooterText)
	return err
}
