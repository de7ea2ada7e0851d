// Package output provides the length-bounded writer that template output is
// rendered through.
package output

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrLimitExceeded is returned by LimitedWriter the first time a write does not
// fit into the remaining character budget. The fitting prefix of that write has
// already reached the destination when the error is returned.
var ErrLimitExceeded = errors.New("output length limit exceeded")

// TruncationNotice returns the text appended to truncated output.
func TruncationNotice(limit int) string {
	return fmt.Sprintf("\n----------\nAborted template processing, as the output length has exceeded the %d character limit set for this service.", limit)
}

// LimitedWriter forwards writes to an underlying writer until a budget of
// characters (runes, not bytes) is used up.
//
// A LimitedWriter is not safe for concurrent use.
type LimitedWriter struct {
	w        io.Writer
	limit    int
	left     int
	exceeded bool
}

// NewLimitedWriter wraps w with a budget of limit characters. A negative limit
// is treated as zero.
func NewLimitedWriter(w io.Writer, limit int) *LimitedWriter {
	if limit < 0 {
		limit = 0
	}
	return &LimitedWriter{w: w, limit: limit, left: limit}
}

// Limit returns the configured character budget.
func (lw *LimitedWriter) Limit() int {
	return lw.limit
}

// Remaining returns the number of characters that can still be written.
func (lw *LimitedWriter) Remaining() int {
	return lw.left
}

// Exceeded reports whether a write has overflowed the budget.
func (lw *LimitedWriter) Exceeded() bool {
	return lw.exceeded
}

// Write writes p if it fits. Otherwise it writes the longest prefix of p that
// fits on a character boundary and returns ErrLimitExceeded. The returned count
// is the number of bytes of p that were written.
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	if lw.exceeded {
		return 0, ErrLimitExceeded
	}
	n := utf8.RuneCount(p)
	if n <= lw.left {
		lw.left -= n
		return lw.w.Write(p)
	}

	cut := prefixBytes(p, lw.left)
	lw.left = 0
	lw.exceeded = true
	written, err := lw.w.Write(p[:cut])
	if err != nil {
		return written, err
	}
	return written, ErrLimitExceeded
}

// WriteString is the string counterpart of Write.
func (lw *LimitedWriter) WriteString(s string) (int, error) {
	if lw.exceeded {
		return 0, ErrLimitExceeded
	}
	n := utf8.RuneCountInString(s)
	if n <= lw.left {
		lw.left -= n
		return io.WriteString(lw.w, s)
	}

	cut := prefixBytes([]byte(s), lw.left)
	lw.left = 0
	lw.exceeded = true
	written, err := io.WriteString(lw.w, s[:cut])
	if err != nil {
		return written, err
	}
	return written, ErrLimitExceeded
}

// prefixBytes returns the byte length of the first n runes of p.
func prefixBytes(p []byte, n int) int {
	off := 0
	for i := 0; i < n && off < len(p); i++ {
		_, size := utf8.DecodeRune(p[off:])
		off += size
	}
	return off
}
