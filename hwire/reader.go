package hwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxHeaderSize is used when Limits.MaxHeaderSize is zero
	DefaultMaxHeaderSize = 64 << 10

	minRead    = 4096
	maxReserve = 1 << 20
)

var (
	// ErrMalformed is returned for messages that violate HTTP/1.1 syntax
	ErrMalformed = errors.New("malformed HTTP message")

	// ErrTooLarge is returned when a message exceeds the header or total size
	// cap
	ErrTooLarge = errors.New("HTTP message too large")

	// ErrUnsupportedEncoding is returned for a content coding that can't be
	// decoded
	ErrUnsupportedEncoding = errors.New("unsupported content coding")
)

// DefaultTrailerExclude lists the fields never merged from a chunked trailer
// into the message header
var DefaultTrailerExclude = []string{
	"Transfer-Encoding",
	"Content-Length",
	"Host",
	"Content-Encoding",
	"Location",
	"Trailer",
}

// Limits controls how a message is read
type Limits struct {
	// MaxSize caps the total size of header and body, both as received and
	// after decoding; 0 = unlimited
	MaxSize int64

	// MaxHeaderSize caps the start line and header fields; 0 means
	// DefaultMaxHeaderSize
	MaxHeaderSize int

	// Timeout is applied to every read from a live connection; 0 = none
	Timeout time.Duration

	// Decompress enables decoding of Content-Encoding
	Decompress bool

	// TrailerExclude replaces DefaultTrailerExclude when not nil
	TrailerExclude []string
}

func (lim Limits) withDefaults() Limits {
	if lim.MaxHeaderSize <= 0 {
		lim.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if lim.TrailerExclude == nil {
		lim.TrailerExclude = DefaultTrailerExclude
	}
	return lim
}

func (lim Limits) excluded(name string) bool {
	for _, n := range lim.TrailerExclude {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Conn is the part of net.Conn the Reader needs
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Reader reads HTTP/1.1 messages from a connection.
//
// Bytes received past the end of a message are kept for the next read, so a
// single Reader must be used for the whole life of a connection. Reader is
// not safe for concurrent use.
type Reader struct {
	src  io.Reader
	conn Conn // nil when parsing a buffer
	buf  []byte
	eof  bool
}

// NewReader returns a Reader for the connection
func NewReader(conn Conn) *Reader {
	return &Reader{src: conn, conn: conn}
}

// Parse parses a complete message held in buf. Nothing blocks, the message
// always has ExpectClose set, and empty input produces an empty message.
func Parse(buf []byte, lim Limits) (*Message, error) {
	if len(buf) == 0 {
		return &Message{}, nil
	}
	r := &Reader{src: bytes.NewReader(buf)}
	return r.read(kindAuto, "", lim)
}

// ReadRequest reads a request.
//
// Responses are written to the connection as needed: 100 Continue when the
// request expects it and its body fits, 413 when the request is too large,
// and 415 when its body uses an unknown content coding.
func (r *Reader) ReadRequest(lim Limits) (*Message, error) {
	m, err := r.read(kindRequest, "", lim)
	switch {
	case errors.Is(err, ErrTooLarge):
		r.reply(http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrUnsupportedEncoding):
		r.reply(http.StatusUnsupportedMediaType)
	}
	return m, err
}

// ReadResponse reads a response to a request with the given method. 1xx
// responses are returned as they come.
func (r *Reader) ReadResponse(method string, lim Limits) (*Message, error) {
	return r.read(kindResponse, method, lim)
}

// Buffered returns the number of bytes received but not consumed yet
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Drain returns and forgets the bytes received but not consumed yet
func (r *Reader) Drain() []byte {
	b := r.buf
	r.buf = nil
	return b
}

type kind int

const (
	kindAuto kind = iota
	kindRequest
	kindResponse
)

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyFixed
	bodyChunked
	bodyToEOF
)

func (r *Reader) read(k kind, method string, lim Limits) (*Message, error) {
	lim = lim.withDefaults()
	live := r.conn != nil

	head, err := r.readHead(lim)
	if err != nil {
		return nil, err
	}
	m, err := parseHead(head, k)
	if err != nil {
		return nil, err
	}
	if !live {
		m.ExpectClose = true
	}
	size := int64(len(head))

	mode, length, err := resolveBody(m, method, live)
	if err != nil {
		return nil, err
	}

	if live && m.IsRequest() && mode != bodyNone && m.Header.HasToken("Expect", "100-continue") {
		if mode == bodyFixed && lim.MaxSize > 0 && length > lim.MaxSize-size {
			return nil, ErrTooLarge
		}
		r.reply(http.StatusContinue)
	}

	switch mode {
	case bodyFixed:
		m.Body, err = r.readFixed(length, size, lim)
	case bodyChunked:
		m.Body, err = r.readChunked(m, size, lim)
	case bodyToEOF:
		m.Body, err = r.readToEOF(size, lim)
		m.ExpectClose = true
	}
	if err != nil {
		return nil, err
	}

	if lim.Decompress {
		if err := decode(m, lim.MaxSize); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (r *Reader) readHead(lim Limits) ([]byte, error) {
	for {
		r.skipEmptyLines()
		if end := headEnd(r.buf); end >= 0 {
			if end > lim.MaxHeaderSize {
				return nil, ErrTooLarge
			}
			head := r.buf[:end]
			r.buf = r.buf[end:]
			return head, nil
		}
		if len(r.buf) > lim.MaxHeaderSize {
			return nil, ErrTooLarge
		}
		if err := r.fill(lim); err != nil {
			if errors.Is(err, io.EOF) && len(r.buf) == 0 {
				return nil, io.EOF
			}
			return nil, truncated(err)
		}
	}
}

// skipEmptyLines drops empty lines preceding a start line
func (r *Reader) skipEmptyLines() {
	for {
		switch {
		case bytes.HasPrefix(r.buf, []byte("\r\n")):
			r.buf = r.buf[2:]
		case len(r.buf) > 0 && r.buf[0] == '\n':
			r.buf = r.buf[1:]
		default:
			return
		}
	}
}

// headEnd returns the offset just past the empty line ending the header
// section, or -1. Both CRLF and bare LF line endings are accepted.
func headEnd(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] != '\n' {
			continue
		}
		rest := b[i+1:]
		switch {
		case len(rest) >= 1 && rest[0] == '\n':
			return i + 2
		case len(rest) >= 2 && rest[0] == '\r' && rest[1] == '\n':
			return i + 3
		}
	}
	return -1
}

func (r *Reader) fill(lim Limits) error {
	if r.eof {
		return io.EOF
	}
	if r.conn != nil && lim.Timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(lim.Timeout)); err != nil {
			return err
		}
	}
	r.reserve(minRead)
	n, err := r.src.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]
	if errors.Is(err, io.EOF) {
		r.eof = true
	}
	if n > 0 {
		return nil
	}
	return err
}

// reserve makes sure at least n more bytes fit into the buffer
func (r *Reader) reserve(n int) {
	if cap(r.buf)-len(r.buf) >= n {
		return
	}
	size := 2*len(r.buf) + minRead
	if size < len(r.buf)+n {
		size = len(r.buf) + n
	}
	buf := make([]byte, len(r.buf), size)
	copy(buf, r.buf)
	r.buf = buf
}

func (r *Reader) readFixed(n, size int64, lim Limits) ([]byte, error) {
	if lim.MaxSize > 0 && n > lim.MaxSize-size {
		return nil, ErrTooLarge
	}
	if err := r.await(n, lim); err != nil {
		return nil, err
	}
	body := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return body, nil
}

// await receives until at least n bytes are buffered. The buffer grows by at
// most maxReserve at a time, following the bytes actually received rather
// than the size the peer declared.
func (r *Reader) await(n int64, lim Limits) error {
	for int64(len(r.buf)) < n {
		r.reserve(int(min(n-int64(len(r.buf)), maxReserve)))
		if err := r.fill(lim); err != nil {
			return truncated(err)
		}
	}
	return nil
}

func (r *Reader) readToEOF(size int64, lim Limits) ([]byte, error) {
	for {
		if lim.MaxSize > 0 && size+int64(len(r.buf)) > lim.MaxSize {
			return nil, ErrTooLarge
		}
		if err := r.fill(lim); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	body := r.buf
	r.buf = nil
	return body, nil
}

// readLine returns the next line without its CRLF or LF terminator
func (r *Reader) readLine(lim Limits) (string, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := strings.TrimSuffix(string(r.buf[:i]), "\r")
			r.buf = r.buf[i+1:]
			return line, nil
		}
		if len(r.buf) > lim.MaxHeaderSize {
			return "", ErrTooLarge
		}
		if err := r.fill(lim); err != nil {
			return "", err
		}
	}
}

func (r *Reader) readChunked(m *Message, size int64, lim Limits) ([]byte, error) {
	body := []byte{}
	for {
		line, err := r.readLine(lim)
		if err != nil {
			return nil, truncated(err)
		}
		size += int64(len(line)) + 2
		n, err := parseChunkSize(line)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if lim.MaxSize > 0 && n > lim.MaxSize-size {
			return nil, ErrTooLarge
		}
		if err := r.await(n, lim); err != nil {
			return nil, err
		}
		body = append(body, r.buf[:n]...)
		r.buf = r.buf[n:]
		size += n

		line, err = r.readLine(lim)
		if err != nil {
			return nil, truncated(err)
		}
		if line != "" {
			return nil, fmt.Errorf("%w: chunk data longer than its size", ErrMalformed)
		}
	}

	for {
		line, err := r.readLine(lim)
		if errors.Is(err, io.EOF) && len(r.buf) == 0 {
			break // tolerate a missing final empty line at the end of input
		}
		if err != nil {
			return nil, truncated(err)
		}
		if line == "" {
			break
		}
		size += int64(len(line)) + 2
		if lim.MaxSize > 0 && size > lim.MaxSize {
			return nil, ErrTooLarge
		}
		name, value, err := parseField(line)
		if err != nil {
			return nil, err
		}
		if !lim.excluded(name) {
			m.Header.Add(name, value)
		}
	}
	return body, nil
}

func parseChunkSize(line string) (int64, error) {
	field, _, _ := strings.Cut(line, ";")
	field = strings.TrimRight(field, " \t")
	if field == "" || len(field) > 15 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, line)
	}
	var n int64
	for _, c := range []byte(field) {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, line)
		}
		n = n<<4 | int64(d)
	}
	return n, nil
}

func (r *Reader) reply(code int) {
	var h Header
	if code >= http.StatusOK {
		h.Set("Content-Length", "0")
		h.Set("Connection", "close")
	}
	_ = WriteResponseHead(r.conn, code, "", &h) // the peer may be gone already
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrMalformed, io.ErrUnexpectedEOF)
	}
	return err
}

func parseHead(head []byte, k kind) (*Message, error) {
	lines := strings.Split(string(head), "\n")
	start := strings.TrimSuffix(lines[0], "\r")

	m := &Message{}
	var err error
	if k == kindResponse || (k == kindAuto && strings.HasPrefix(start, "HTTP/")) {
		err = parseStatusLine(m, start)
	} else {
		err = parseRequestLine(m, start)
	}
	if err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, err := parseField(line)
		if err != nil {
			return nil, err
		}
		if Canonical(name) == "Content-Length" && m.Header.Has(name) {
			if m.Header.Get(name) != value {
				return nil, fmt.Errorf("%w: conflicting Content-Length", ErrMalformed)
			}
			continue
		}
		m.Header.Add(name, value)
	}

	if m.Header.HasToken("Connection", "close") ||
		(m.Version == "HTTP/1.0" && !m.Header.HasToken("Connection", "keep-alive")) {
		m.ExpectClose = true
	}
	return m, nil
}

func parseRequestLine(m *Message, line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || !isToken(parts[0]) || parts[1] == "" || !validVersion(parts[2]) {
		return fmt.Errorf("%w: bad request line %q", ErrMalformed, line)
	}
	m.Method, m.Path, m.Version = parts[0], parts[1], parts[2]
	return nil
}

func parseStatusLine(m *Message, line string) error {
	version, rest, _ := strings.Cut(line, " ")
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if !validVersion(version) || len(codeStr) != 3 || err != nil || code < 100 {
		return fmt.Errorf("%w: bad status line %q", ErrMalformed, line)
	}
	m.Version, m.Code, m.Reason = version, code, reason
	return nil
}

func validVersion(v string) bool {
	return len(v) == 8 && strings.HasPrefix(v, "HTTP/1.") && v[7] >= '0' && v[7] <= '9'
}

func parseField(line string) (string, string, error) {
	if line[0] == ' ' || line[0] == '\t' {
		return "", "", fmt.Errorf("%w: obsolete line folding", ErrMalformed)
	}
	name, value, ok := strings.Cut(line, ":")
	if !ok || !isToken(name) {
		return "", "", fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
	}
	return name, strings.Trim(value, " \t"), nil
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range []byte(s) {
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`"(),/:;<=>?@[\]{}`, c) >= 0 {
			return false
		}
	}
	return true
}

func resolveBody(m *Message, method string, live bool) (bodyMode, int64, error) {
	if !m.IsRequest() {
		switch {
		case m.Code < 200, m.Code == http.StatusNoContent, m.Code == http.StatusNotModified:
			return bodyNone, 0, nil
		case method == http.MethodHead:
			return bodyNone, 0, nil
		case method == http.MethodConnect && m.Code/100 == 2:
			return bodyNone, 0, nil
		}
	}

	if te := m.Header.Tokens("Transfer-Encoding"); len(te) > 0 {
		if te[len(te)-1] == "chunked" {
			m.Header.Del("Content-Length")
			return bodyChunked, 0, nil
		}
		if m.IsRequest() {
			return bodyNone, 0, fmt.Errorf("%w: request body not chunked", ErrMalformed)
		}
		m.ExpectClose = true
		if live {
			return bodyToEOF, 0, nil
		}
		return bodyNone, 0, nil
	}

	if m.Header.Has("Content-Length") {
		n, err := strconv.ParseInt(m.Header.Get("Content-Length"), 10, 64)
		if err != nil || n < 0 {
			return bodyNone, 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformed, m.Header.Get("Content-Length"))
		}
		return bodyFixed, n, nil
	}

	if !live {
		return bodyNone, 0, nil
	}
	if m.IsRequest() && !bodyless[m.Method] {
		return bodyToEOF, 0, nil
	}
	if !m.IsRequest() && m.ExpectClose && (m.Code == http.StatusOK || m.Code == http.StatusPartialContent) {
		return bodyToEOF, 0, nil
	}
	return bodyNone, 0, nil
}

// bodyless lists the methods whose requests carry no content unless framed,
// so that a client may keep sending requests on the connection
var bodyless = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}
