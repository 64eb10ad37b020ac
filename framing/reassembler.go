package framing

import (
	"bytes"
)

// DefaultTerminator ends every line of worker output.
const DefaultTerminator byte = '\n'

// Reassembler accumulates arbitrarily split chunks and returns completed lines.
//
// It is not safe for concurrent use; a stream is fed from one goroutine at a
// time. Lines have no length limit, so a frame carrying a large base64 image is
// handled the same as a short log line.
type Reassembler struct {
	terminator byte
	pending    []byte
}

// NewReassembler returns a Reassembler splitting on terminator.
func NewReassembler(terminator byte) *Reassembler {
	return &Reassembler{terminator: terminator}
}

// Feed appends chunk to the pending buffer and returns every line it completes,
// in order and without their terminators. Whatever follows the last terminator
// stays pending for the next call.
func (r *Reassembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	idx := bytes.IndexByte(chunk, r.terminator)
	if idx < 0 {
		r.pending = append(r.pending, chunk...)
		return nil
	}

	var lines []string

	// First line completes whatever was pending.
	first := append(r.pending, chunk[:idx]...)
	lines = append(lines, string(first))
	rest := chunk[idx+1:]

	for {
		idx = bytes.IndexByte(rest, r.terminator)
		if idx < 0 {
			break
		}
		lines = append(lines, string(rest[:idx]))
		rest = rest[idx+1:]
	}

	// Lines were copied out as strings, so the backing array can be reused.
	r.pending = append(r.pending[:0], rest...)
	return lines
}

// Pending returns a copy of the unterminated remainder.
func (r *Reassembler) Pending() []byte {
	return bytes.Clone(r.pending)
}

// Flush returns the unterminated remainder as a line and empties the buffer.
// ok is false when nothing was pending.
func (r *Reassembler) Flush() (line string, ok bool) {
	if len(r.pending) == 0 {
		return "", false
	}
	line = string(r.pending)
	r.pending = r.pending[:0]
	return line, true
}

// Reset discards the pending buffer.
func (r *Reassembler) Reset() {
	r.pending = nil
}
