// Package formats holds the plumbing shared by the file-format factories:
// opening (optionally gzip-compressed) sources, line iteration with
// positions for error messages, and fixed-column field parsing.
package formats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/signalsfoundry/gnss-nav-engine/core"
)

var gzipMagic = []byte{0x1f, 0x8b}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens a source file. Compressed content is detected by its magic
// bytes and decompressed transparently.
func Open(source string) (io.ReadCloser, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSourceUnreadable, err)
	}
	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if !bytes.Equal(magic, gzipMagic) {
		return &readCloser{Reader: br, closers: []io.Closer{f}}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", core.ErrSourceUnreadable, source, err)
	}
	return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
}

// WithSource opens source, hands it to fn and closes it again.
func WithSource(source string, fn func(r io.Reader) error) error {
	rc, err := Open(source)
	if err != nil {
		return err
	}
	defer rc.Close()
	return fn(rc)
}

// Head returns up to n decompressed bytes from the start of source.
func Head(source string, n int) ([]byte, error) {
	rc, err := Open(source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := make([]byte, n)
	got, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrSourceUnreadable, source, err)
	}
	return buf[:got], nil
}

// LineReader iterates over the lines of a source, remembering the line
// number for error messages and checking for cancellation as it goes.
type LineReader struct {
	ctx    context.Context
	sc     *bufio.Scanner
	source string
	line   int
	err    error
}

// NewLineReader wraps r. Trailing carriage returns are stripped.
func NewLineReader(ctx context.Context, r io.Reader, source string) *LineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineReader{ctx: ctx, sc: sc, source: source}
}

// Next returns the next line, or false at the end of input, on a read
// error or when the context is done. Err tells these apart.
func (lr *LineReader) Next() (string, bool) {
	if lr.err != nil {
		return "", false
	}
	if lr.line%256 == 0 {
		if err := lr.ctx.Err(); err != nil {
			lr.err = err
			return "", false
		}
	}
	if !lr.sc.Scan() {
		if err := lr.sc.Err(); err != nil {
			lr.err = fmt.Errorf("%w: %s: %v", core.ErrSourceUnreadable, lr.source, err)
		}
		return "", false
	}
	lr.line++
	return strings.TrimRight(lr.sc.Text(), "\r"), true
}

// Err reports why Next returned false; nil at a clean end of input.
func (lr *LineReader) Err() error { return lr.err }

// Line is the number of the line most recently returned, from 1.
func (lr *LineReader) Line() int { return lr.line }

// Errorf builds an ErrSourceFormat error pointing at the current line.
func (lr *LineReader) Errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s:%d: %s", core.ErrSourceFormat, lr.source, lr.line, fmt.Sprintf(format, args...))
}

// Field returns line[start:start+width], clipped to the line, trimmed.
func Field(line string, start, width int) string {
	if start >= len(line) {
		return ""
	}
	end := start + width
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end])
}

// ParseFloat parses a numeric field, accepting Fortran D exponents.
// A blank field is zero.
func ParseFloat(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, nil
	}
	field = strings.Map(func(r rune) rune {
		if r == 'D' || r == 'd' {
			return 'E'
		}
		return r
	}, field)
	return strconv.ParseFloat(field, 64)
}

// ParseInt parses an integer field; blank is zero.
func ParseInt(field string) (int, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, nil
	}
	return strconv.Atoi(field)
}
