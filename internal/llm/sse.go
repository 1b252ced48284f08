package llm

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
	sseReadSize   = 32 * 1024
)

var frameBoundary = []byte("\n\n")

// FrameDecoder splits a server-sent event body into data payloads.
//
// Frames are delimited by a blank line. Bytes after the last boundary are
// held back until the next read completes them. Frames that do not start
// with "data: " and the literal "[DONE]" payload are skipped.
type FrameDecoder struct {
	r       io.Reader
	buf     []byte
	chunk   []byte
	err     error
	sawDone bool
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: r, chunk: make([]byte, sseReadSize)}
}

// Next returns the next data payload. It returns io.EOF once the underlying
// reader is exhausted; any other error is the reader's.
func (d *FrameDecoder) Next() (string, error) {
	for {
		if i := bytes.Index(d.buf, frameBoundary); i >= 0 {
			frame := string(d.buf[:i])
			d.buf = d.buf[i+len(frameBoundary):]
			payload, ok := framePayload(frame)
			if !ok {
				continue
			}
			if payload == sseDone {
				d.sawDone = true
				continue
			}
			return payload, nil
		}
		if d.err != nil {
			return "", d.err
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.append(d.chunk[:n])
		}
		if err != nil {
			d.err = err
		}
	}
}

// SawDone reports whether a [DONE] frame has been observed.
func (d *FrameDecoder) SawDone() bool {
	return d.sawDone
}

// Pending returns bytes received after the last complete frame.
func (d *FrameDecoder) Pending() string {
	return string(d.buf)
}

// Clean reports whether the reader ended at a frame boundary.
func (d *FrameDecoder) Clean() bool {
	return errors.Is(d.err, io.EOF) && len(bytes.TrimSpace(d.buf)) == 0
}

func (d *FrameDecoder) append(p []byte) {
	d.buf = append(d.buf, p...)
	if bytes.IndexByte(d.buf, '\r') >= 0 {
		// A lone trailing \r may be the first half of a \r\n split across reads.
		tail := len(d.buf) > 0 && d.buf[len(d.buf)-1] == '\r'
		if tail {
			d.buf = d.buf[:len(d.buf)-1]
		}
		d.buf = bytes.ReplaceAll(d.buf, []byte("\r\n"), []byte("\n"))
		if tail {
			d.buf = append(d.buf, '\r')
		}
	}
}

// framePayload extracts the data payload of one frame. Multi-line data
// fields are joined with newlines. Extra blank lines before a frame belong
// to the previous boundary and are dropped.
func framePayload(frame string) (string, bool) {
	frame = strings.TrimLeft(frame, "\n")
	if !strings.HasPrefix(frame, sseDataPrefix) {
		return "", false
	}
	lines := strings.Split(frame, "\n")
	var parts []string
	for _, line := range lines {
		if strings.HasPrefix(line, sseDataPrefix) {
			parts = append(parts, strings.TrimPrefix(line, sseDataPrefix))
		}
	}
	return strings.Join(parts, "\n"), true
}
