package hwire

import (
	"bytes"
	"io"
	"net/textproto"
	"strings"

	"github.com/ridge/must/v2"
)

// Header is an ordered set of HTTP header fields.
//
// Names are stored in the canonical MIME form. The order of first appearance
// is kept, and a repeated field is folded into the first one by joining the
// values with ", ". The zero value is an empty header ready to use.
type Header struct {
	names  []string
	values map[string]string
}

// Canonical returns the canonical form of a header name
func Canonical(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

// Len returns the number of distinct fields
func (h *Header) Len() int {
	return len(h.names)
}

// Names returns the field names in order of first appearance
func (h *Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Has reports whether the field is present
func (h *Header) Has(name string) bool {
	_, ok := h.values[Canonical(name)]
	return ok
}

// Get returns the value of the field, or "" if it is absent
func (h *Header) Get(name string) string {
	return h.values[Canonical(name)]
}

// Set replaces the value of the field, keeping its position if it exists
func (h *Header) Set(name, value string) {
	name = Canonical(name)
	if h.values == nil {
		h.values = map[string]string{}
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

// Add appends a value to the field, comma-joining it with any existing value
func (h *Header) Add(name, value string) {
	name = Canonical(name)
	if old, ok := h.values[name]; ok {
		switch {
		case old == "":
			h.values[name] = value
		case value != "":
			h.values[name] = old + ", " + value
		}
		return
	}
	h.Set(name, value)
}

// Del removes the field
func (h *Header) Del(names ...string) {
	for _, name := range names {
		name = Canonical(name)
		if _, ok := h.values[name]; !ok {
			continue
		}
		delete(h.values, name)
		for i, n := range h.names {
			if n == name {
				h.names = append(h.names[:i], h.names[i+1:]...)
				break
			}
		}
	}
}

// Tokens returns the comma-separated elements of the field, lowercased and
// trimmed, skipping empty ones
func (h *Header) Tokens(name string) []string {
	var tokens []string
	for _, t := range strings.Split(h.Get(name), ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// HasToken reports whether the comma-separated field contains the token
// (case-insensitive)
func (h *Header) HasToken(name, token string) bool {
	token = strings.ToLower(token)
	for _, t := range h.Tokens(name) {
		if t == token {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the header
func (h *Header) Clone() Header {
	c := Header{names: append([]string(nil), h.names...)}
	if h.values != nil {
		c.values = make(map[string]string, len(h.values))
		for k, v := range h.values {
			c.values[k] = v
		}
	}
	return c
}

// WriteTo writes the fields in wire format, one "Name: value\r\n" line each.
// The terminating empty line is not written.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, name := range h.names {
		must.OK1(buf.WriteString(name))
		must.OK1(buf.WriteString(": "))
		must.OK1(buf.WriteString(h.values[name]))
		must.OK1(buf.WriteString("\r\n"))
	}
	return buf.WriteTo(w)
}
