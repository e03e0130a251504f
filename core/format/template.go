// Package format renders messages for the wire by substituting ~name~
// tokens in a literal text template. The substitutable fields are the
// message id, channel, text, time, tag, event id and event type; everything
// else in the template passes through untouched.
package format

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrymomot/streamhub/core/broker"
)

// DefaultMessageTemplate emits the raw message text.
const DefaultMessageTemplate = "~text~"

// Template is an immutable wire-text template, resolved once per
// configuration and shared by all requests.
type Template struct {
	raw string
}

// New creates a Template. An empty template falls back to
// DefaultMessageTemplate.
func New(raw string) *Template {
	if raw == "" {
		raw = DefaultMessageTemplate
	}
	return &Template{raw: raw}
}

// Render substitutes the message fields into the template.
func (t *Template) Render(m *broker.Message) []byte {
	var created string
	if !m.CreatedAt.IsZero() {
		created = m.CreatedAt.UTC().Format(http.TimeFormat)
	}
	r := strings.NewReplacer(
		"~id~", strconv.FormatInt(m.WireID(), 10),
		"~channel~", m.Channel,
		"~text~", string(m.Body),
		"~time~", created,
		"~tag~", strconv.FormatUint(uint64(m.Tag), 10),
		"~event-id~", m.EventID,
		"~event-type~", m.EventType,
	)
	return []byte(r.Replace(t.raw))
}
