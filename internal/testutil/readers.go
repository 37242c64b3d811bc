package testutil

import (
	"errors"
	"io"
)

// ChunkReader serves a fixed sequence of byte chunks, one per Read call,
// simulating network reads that split frames at arbitrary boundaries.
type ChunkReader struct {
	chunks [][]byte
}

// NewChunkReader creates a ChunkReader over the given chunks.
func NewChunkReader(chunks ...[]byte) *ChunkReader {
	return &ChunkReader{chunks: chunks}
}

// NewStringChunkReader creates a ChunkReader over string chunks.
func NewStringChunkReader(chunks ...string) *ChunkReader {
	r := &ChunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

// Read implements io.Reader returning exactly one stored chunk per call.
func (r *ChunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := r.chunks[0]
	if len(chunk) > len(p) {
		n := copy(p, chunk[:len(p)])
		r.chunks[0] = chunk[n:]
		return n, nil
	}
	r.chunks = r.chunks[1:]
	return copy(p, chunk), nil
}

// FlakyReader fails the first Fail read calls with a transient error before
// delegating to the wrapped reader. Used to exercise read-retry behavior.
type FlakyReader struct {
	R     io.Reader
	Fail  int
	Calls int
}

// ErrTransient is the error FlakyReader returns while failing.
var ErrTransient = errors.New("transient read failure")

// Read implements io.Reader.
func (r *FlakyReader) Read(p []byte) (int, error) {
	r.Calls++
	if r.Fail > 0 {
		r.Fail--
		return 0, ErrTransient
	}
	return r.R.Read(p)
}
