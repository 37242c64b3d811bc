// Package stream decodes the generation service's server-sent event body into
// discrete StreamEvents and provides the matching write side for serving such
// a body. Frames are delimited by a blank line and carry an "event:" and a
// "data:" line in either order.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/threadstream/core"
	"github.com/hupe1980/threadstream/logging"
)

var frameDelimiter = []byte("\n\n")

// Options configure a Scanner.
type Options struct {
	// ChunkSize is the read buffer size per transport read.
	ChunkSize int
	// ReadRetries is the number of backoff retries for a single failing
	// transport read before the error is surfaced. Cancellation is never
	// retried.
	ReadRetries int
	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration
	// Logger receives dropped-frame diagnostics.
	Logger logging.Logger
}

// Scanner incrementally parses an unbounded chunked byte stream into
// StreamEvents, tolerating frames split at arbitrary byte boundaries.
// Malformed frames are dropped without aborting the stream. A Scanner is not
// restartable; create a new session to re-consume a stream.
//
// Usage mirrors bufio.Scanner:
//
//	sc := stream.NewScanner(resp.Body)
//	for sc.Next() {
//	    ev := sc.Event()
//	    ...
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	r       io.Reader
	opts    Options
	buf     []byte
	chunk   []byte
	pending []core.StreamEvent
	current core.StreamEvent
	err     error
	done    bool
}

// NewScanner creates a Scanner reading SSE frames from r.
func NewScanner(r io.Reader, optFns ...func(o *Options)) *Scanner {
	opts := Options{
		ChunkSize:            4096,
		ReadRetries:          1,
		RetryInitialInterval: 500 * time.Millisecond,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scanner{r: r, opts: opts, chunk: make([]byte, opts.ChunkSize)}
}

// Next advances to the next decoded event, reading from the transport as
// needed. It returns false when the stream ends or a non-recoverable read
// error occurs; consult Err to distinguish.
func (s *Scanner) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.done || s.err != nil {
			return false
		}
		s.fill()
	}
}

// Event returns the event produced by the last successful Next call.
func (s *Scanner) Event() core.StreamEvent { return s.current }

// Err returns the first non-EOF error encountered, if any.
func (s *Scanner) Err() error { return s.err }

// fill performs one transport read, appends the chunk to the rolling buffer
// and drains every complete frame. The trailing incomplete fragment stays in
// the buffer for the next chunk.
func (s *Scanner) fill() {
	n, err := s.read()
	if n > 0 {
		s.buf = append(s.buf, s.chunk[:n]...)
		s.drain()
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.done = true
	default:
		s.err = err
	}
}

// read issues a single transport read, retrying a transient failure with
// exponential backoff. An explicit cancellation is surfaced immediately.
func (s *Scanner) read() (int, error) {
	n, err := s.r.Read(s.chunk)
	if err == nil || n > 0 || !retryable(err) {
		return n, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryInitialInterval
	for attempt := 1; attempt <= s.opts.ReadRetries; attempt++ {
		s.opts.Logger.Warn("transient stream read failure, retrying", "attempt", attempt, "error", err)
		time.Sleep(bo.NextBackOff())
		n, err = s.r.Read(s.chunk)
		if err == nil || n > 0 || !retryable(err) {
			return n, err
		}
	}
	return n, err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, net.ErrClosed):
		return false
	}
	return true
}

// drain splits the buffer on the frame delimiter and parses every complete
// frame immediately.
func (s *Scanner) drain() {
	for {
		idx := bytes.Index(s.buf, frameDelimiter)
		if idx < 0 {
			return
		}
		frame := s.buf[:idx]
		s.buf = s.buf[idx+len(frameDelimiter):]
		if ev, ok := s.parseFrame(frame); ok {
			s.pending = append(s.pending, ev)
		}
	}
}

// parseFrame extracts the event name and JSON data from one complete frame.
// Frames missing either field are silently discarded; payloads that fail to
// decode are logged and discarded. Neither aborts the stream.
func (s *Scanner) parseFrame(frame []byte) (core.StreamEvent, bool) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return core.StreamEvent{}, false
	}

	var name, data []byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		switch {
		case name == nil && bytes.HasPrefix(line, []byte("event: ")):
			name = bytes.TrimPrefix(line, []byte("event: "))
		case data == nil && bytes.HasPrefix(line, []byte("data: ")):
			data = bytes.TrimPrefix(line, []byte("data: "))
		}
	}
	if len(name) == 0 || len(data) == 0 {
		return core.StreamEvent{}, false
	}

	ev, err := core.ParseStreamEvent(core.EventName(name), data)
	if err != nil {
		s.opts.Logger.Warn("dropping undecodable frame", "event", string(name), "error", err)
		return core.StreamEvent{}, false
	}
	return ev, true
}
