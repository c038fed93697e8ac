// Package ndjson decodes newline-delimited JSON streams incrementally.
//
// A Decoder accepts raw byte chunks in whatever sizes the transport
// delivers them, buffers the trailing partial line, and parses every
// complete line independently. One malformed line never aborts the
// stream; it is reported and skipped.
package ndjson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LineError reports a single line that failed to parse. The stream
// continues past it.
type LineError struct {
	Line []byte
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("ndjson: skipping malformed line %q: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Decoder decodes a stream of newline-delimited JSON records of type T.
// A Decoder holds per-stream buffer state: use one instance per logical
// stream and never share it across concurrent streams.
type Decoder[T any] struct {
	buf      []byte
	onRecord func(T)
	onError  func(error)
}

// New returns a Decoder delivering each parsed record to onRecord and each
// malformed line to onError. onError may be nil to silently skip bad lines.
func New[T any](onRecord func(T), onError func(error)) *Decoder[T] {
	return &Decoder[T]{onRecord: onRecord, onError: onError}
}

// Feed appends p to the buffer and parses every complete line it now
// holds. The trailing segment without a newline is retained until the
// next Feed or Flush.
func (d *Decoder[T]) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		d.decodeLine(line)
	}
}

// Write implements io.Writer so a Decoder can be the target of io.Copy
// from a streamed response body. It never returns an error.
func (d *Decoder[T]) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

// Flush parses any buffered trailer. Call once at end of stream to handle
// a final record not terminated by a newline.
func (d *Decoder[T]) Flush() {
	if len(d.buf) == 0 {
		return
	}
	line := d.buf
	d.buf = nil
	d.decodeLine(line)
}

func (d *Decoder[T]) decodeLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var rec T
	if err := json.Unmarshal(line, &rec); err != nil {
		if d.onError != nil {
			// Copy: the backing array is reused by the buffer.
			d.onError(&LineError{Line: bytes.Clone(line), Err: err})
		}
		return
	}
	d.onRecord(rec)
}
