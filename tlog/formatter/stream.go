package formatter

import (
	"bufio"
	"errors"
	"io"
)

// Stream copies logs from r to w, rendering JSON log entries as text. Other
// lines are copied unchanged.
func Stream(r io.Reader, w io.Writer, color bool) error {
	br := bufio.NewReader(r)
	var prevTimestamp string
	for {
		line, err := br.ReadBytes('\n')
		// an unterminated last line comes together with io.EOF
		if len(line) > 0 {
			buf, ts, ferr := JSONLogMessage(line, prevTimestamp, color)
			if ferr != nil {
				if _, err := w.Write(line); err != nil {
					return err
				}
			} else {
				prevTimestamp = ts
				_, werr := w.Write(buf.Bytes())
				buf.Free()
				if werr != nil {
					return werr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
