package tarstream

import (
	"context"
	"io"
	"iter"
)

// Copy writes the rest of the archive to w and returns the number of bytes
// written. The stream is drained but not closed.
func (s *Stream) Copy(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if n != len(chunk) {
			return written, io.ErrShortWrite
		}
	}
}

// WriteTo implements io.WriterTo.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	return s.Copy(context.Background(), w)
}

// All yields every remaining chunk. Iteration stops after the first error,
// which is yielded with a nil chunk; io.EOF is not yielded.
func (s *Stream) All(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// Reader adapts a Stream to io.ReadCloser.
type Reader struct {
	ctx     context.Context
	stream  *Stream
	pending []byte
}

// Reader returns an io.ReadCloser over the rest of the archive. Closing it
// closes the stream.
func (s *Stream) Reader(ctx context.Context) *Reader {
	return &Reader{ctx: ctx, stream: s}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		chunk, err := r.stream.Next(r.ctx)
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// WriteTo implements io.WriterTo so io.Copy skips the intermediate buffer.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	if len(r.pending) > 0 {
		n, err := w.Write(r.pending)
		written += int64(n)
		r.pending = r.pending[n:]
		if err != nil {
			return written, err
		}
		if len(r.pending) > 0 {
			return written, io.ErrShortWrite
		}
	}
	n, err := r.stream.Copy(r.ctx, w)
	return written + n, err
}

func (r *Reader) Close() error {
	r.pending = nil
	return r.stream.Close()
}
