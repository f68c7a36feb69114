// Package sse decodes the newline-delimited event frames of a streamed
// chat completion response.
//
// A Decoder is fed raw body reads as they arrive. Only complete lines are
// classified; the unterminated tail is kept until the next read or until
// Flush is called at end of stream.
package sse

import "bytes"

// DoneMarker is the payload of the frame that terminates a stream.
const DoneMarker = "[DONE]"

var dataPrefix = []byte("data:")

// Frame is a single decoded data frame.
type Frame struct {
	// Data is the frame payload with the "data:" prefix removed.
	Data []byte
	// Terminal is set for the DoneMarker frame. Data is empty then.
	Terminal bool
}

// Decoder splits a byte stream into data frames.
type Decoder struct {
	buf  []byte
	done bool
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the pending buffer and returns every data frame whose
// line is now complete, in stream order. Lines that are not data frames
// (comments, "event:" fields, keep-alive blanks) are dropped. Once the
// terminal frame has been returned the decoder ignores further input.
func (d *Decoder) Feed(p []byte) []Frame {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		frame, ok := parseLine(line)
		if !ok {
			continue
		}
		frames = append(frames, frame)
		if frame.Terminal {
			d.done = true
			d.buf = nil
			break
		}
	}
	return frames
}

// Flush gives the unterminated tail one last chance at end of stream and
// discards it. A tail without the "data:" prefix is returned as a raw
// payload so the caller can still attempt to parse it.
func (d *Decoder) Flush() (Frame, bool) {
	if d.done {
		return Frame{}, false
	}
	rest := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(rest) == 0 {
		return Frame{}, false
	}
	if frame, ok := parseLine(rest); ok {
		if frame.Terminal {
			d.done = true
		}
		return frame, true
	}
	return Frame{Data: clone(rest)}, true
}

// Done reports whether the terminal frame has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Buffered returns the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func parseLine(line []byte) (Frame, bool) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return Frame{}, false
	}
	if string(payload) == DoneMarker {
		return Frame{Terminal: true}, true
	}
	return Frame{Data: clone(payload)}, true
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
