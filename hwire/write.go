package hwire

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/ridge/must/v2"
)

// WriteRequestHead writes a request line and header section terminated by
// an empty line
func WriteRequestHead(w io.Writer, method, target string, h *Header) error {
	var buf bytes.Buffer
	must.OK1(buf.WriteString(method + " " + target + " HTTP/1.1\r\n"))
	must.OK1(h.WriteTo(&buf))
	must.OK1(buf.WriteString("\r\n"))
	_, err := buf.WriteTo(w)
	return err
}

// WriteResponseHead writes a status line and header section terminated by
// an empty line. An empty reason is replaced by the standard one.
func WriteResponseHead(w io.Writer, code int, reason string, h *Header) error {
	if reason == "" {
		reason = http.StatusText(code)
	}
	var buf bytes.Buffer
	must.OK1(buf.WriteString("HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n"))
	must.OK1(h.WriteTo(&buf))
	must.OK1(buf.WriteString("\r\n"))
	_, err := buf.WriteTo(w)
	return err
}

// WriteTo writes the message with its body as is. The header is expected to
// describe the body already.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	var err error
	if m.IsRequest() {
		err = WriteRequestHead(&buf, m.Method, m.Path, &m.Header)
	} else {
		err = WriteResponseHead(&buf, m.Code, m.Reason, &m.Header)
	}
	must.OK(err)
	must.OK1(buf.Write(m.Body))
	return buf.WriteTo(w)
}

// Chunked encodes body as a single chunk followed by the last chunk
func Chunked(body []byte) []byte {
	var buf bytes.Buffer
	if len(body) > 0 {
		must.OK1(buf.WriteString(strconv.FormatInt(int64(len(body)), 16) + "\r\n"))
		must.OK1(buf.Write(body))
		must.OK1(buf.WriteString("\r\n"))
	}
	must.OK1(buf.WriteString("0\r\n\r\n"))
	return buf.Bytes()
}
