package hooktrace

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// DefaultMaxLineSize bounds a single trace line.
const DefaultMaxLineSize = 4 * 1024 * 1024

// Reader decodes a complete trace from an io.Reader. Blank lines are skipped;
// malformed and oversized lines are logged and skipped so one bad record never
// aborts a replay.
type Reader struct {
	br          *bufio.Reader
	buf         []byte
	maxLineSize int
	decoder     *Decoder
	logger      *zap.Logger
	lineNo      int
	skipped     int
}

// NewReader wraps r. maxLineSize <= 0 uses DefaultMaxLineSize.
func NewReader(r io.Reader, maxLineSize int, logger *zap.Logger) *Reader {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := 64 * 1024
	if maxLineSize < size {
		size = maxLineSize
	}
	return &Reader{
		br:          bufio.NewReaderSize(r, size),
		maxLineSize: maxLineSize,
		decoder:     NewDecoder(),
		logger:      logger.Named("hooktrace_reader"),
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed in full but not buffered; tooLong reports it.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	r.buf = r.buf[:0]
	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			if len(r.buf)+len(chunk) > r.maxLineSize+1 {
				tooLong = true
				r.buf = r.buf[:0]
			} else {
				r.buf = append(r.buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if len(r.buf) == 0 && !tooLong {
				return nil, false, io.EOF
			}
			break
		}
		if err != nil {
			return nil, false, err
		}
		break
	}
	line = bytes.TrimSuffix(r.buf, []byte("\n"))
	if len(line) > r.maxLineSize {
		return nil, true, nil
	}
	return line, tooLong, nil
}

// Next returns the next well-formed event, or io.EOF at the end of input.
func (r *Reader) Next() (Event, error) {
	for {
		raw, tooLong, err := r.readLine()
		if err == io.EOF {
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, fmt.Errorf("read trace line %d: %w", r.lineNo+1, err)
		}
		r.lineNo++
		if tooLong {
			r.skipped++
			r.logger.Warn("Skipping oversized trace line.",
				zap.Int("line", r.lineNo),
				zap.Int("max_line_size", r.maxLineSize))
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		ev, err := r.decoder.Decode(line)
		if err != nil {
			r.skipped++
			r.logger.Warn("Skipping malformed trace line.", zap.Int("line", r.lineNo), zap.Error(err))
			continue
		}
		return ev, nil
	}
}

// Skipped returns the number of malformed or oversized lines seen so far.
func (r *Reader) Skipped() int { return r.skipped }

// Stream sends every event to out until input ends or ctx is cancelled. It
// does not close out.
func (r *Reader) Stream(ctx context.Context, out chan<- Event) error {
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
