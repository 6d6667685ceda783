package hwire

import (
	"fmt"
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Message is a parsed HTTP request or response.
//
// A request has Method and Path set, a response has Code and Reason set.
// A message with neither is empty: it is what parsing no input produces.
type Message struct {
	Method  string
	Path    string
	Code    int
	Reason  string
	Version string

	Header Header
	Body   []byte

	// ExpectClose is set when the connection the message came from must not
	// be used for another exchange
	ExpectClose bool
}

// IsRequest reports whether the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// Empty reports whether the message carries no start line
func (m *Message) Empty() bool {
	return m.Method == "" && m.Code == 0
}

// Text returns the body decoded to a string according to the charset
// parameter of Content-Type. UTF-8 is assumed when no charset is given.
func (m *Message) Text() (string, error) {
	charset := ""
	if ct := m.Header.Get("Content-Type"); ct != "" {
		if _, params, err := mime.ParseMediaType(ct); err == nil {
			charset = strings.ToLower(params["charset"])
		}
	}
	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return string(m.Body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	text, err := enc.NewDecoder().Bytes(m.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s body: %w", charset, err)
	}
	return string(text), nil
}

func (m *Message) String() string {
	switch {
	case m.IsRequest():
		return fmt.Sprintf("%s %s %s", m.Method, m.Path, m.Version)
	case m.Code != 0:
		return fmt.Sprintf("%s %d %s", m.Version, m.Code, m.Reason)
	default:
		return "<empty>"
	}
}
