package hwire

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// decode undoes the Content-Encoding of the body in place. Content-Encoding
// is removed and Content-Length, if present, is updated to the decoded size.
func decode(m *Message, maxSize int64) error {
	codings := m.Header.Tokens("Content-Encoding")
	if len(codings) == 0 {
		return nil
	}
	body := m.Body
	if len(body) > 0 {
		for i := len(codings) - 1; i >= 0; i-- {
			var err error
			switch codings[i] {
			case "identity":
			case "gzip", "x-gzip":
				body, err = gunzip(body, maxSize)
			case "deflate":
				body, err = inflate(body, maxSize)
			default:
				return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, codings[i])
			}
			if err != nil {
				return err
			}
		}
	}
	m.Body = body
	m.Header.Del("Content-Encoding")
	if m.Header.Has("Content-Length") {
		m.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return nil
}

func gunzip(body []byte, maxSize int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: bad gzip stream: %w", ErrMalformed, err)
	}
	defer zr.Close()
	return readAllCapped(zr, maxSize, "gzip")
}

// inflate accepts both zlib-wrapped and raw deflate streams, since servers
// disagree on what "deflate" means
func inflate(body []byte, maxSize int64) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		data, err := readAllCapped(zr, maxSize, "zlib")
		zr.Close()
		if err == nil {
			return data, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	return readAllCapped(fr, maxSize, "deflate")
}

func readAllCapped(r io.Reader, maxSize int64, format string) ([]byte, error) {
	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s stream: %w", ErrMalformed, format, err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
