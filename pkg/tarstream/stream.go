// Package tarstream serializes the regular files of a directory into a GNU
// tar stream, one bounded chunk at a time, as the consumer asks for it.
//
// A Stream is a state machine. Every call to Step performs at most one unit
// of work: pick the next file, open it, stat it, emit its header, read into
// the chunk buffer, or emit a trailer block. Next repeats Step until a chunk
// is produced. Memory use is one 8 KiB buffer, one header block and one open
// file regardless of how many files there are or how large they get.
//
// Chunks returned by Step and Next alias the stream's internal buffers and
// are only valid until the following call.
package tarstream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/tarstream/pkg/common"
	"github.com/beam-cloud/tarstream/pkg/enumerate"
	"github.com/beam-cloud/tarstream/pkg/header"
	"github.com/beam-cloud/tarstream/pkg/metrics"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// ErrClosed is returned by a stream after Close.
var ErrClosed = errors.New("tarstream: stream closed")

// Stream produces the archive of one directory. It is consumed once and is
// not safe for concurrent use.
type Stream struct {
	dir           string
	src           enumerate.Source
	opener        Opener
	clock         func() time.Time
	sourceModTime bool
	metrics       *metrics.Metrics

	phase phase
	err   error

	buf [common.BufferSize]byte
	pos int
	hdr header.Block

	emptyReads int
	files      int
	emitted    int64
	started    time.Time
}

// New enumerates dir and returns a stream over its regular files. The whole
// listing is captured here; enumeration errors surface before any chunk.
func New(ctx context.Context, dir string, opts ...Option) (*Stream, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	src, err := enumerate.Dir(ctx, dir, o.enumerate...)
	if err != nil {
		o.metrics.RecordStreamEnd(err, kindOf(err), 0)
		return nil, err
	}
	return newStream(dir, src, o), nil
}

// NewFromSource returns a stream over the entries src yields.
func NewFromSource(src enumerate.Source, opts ...Option) *Stream {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newStream("", src, o)
}

func newStream(dir string, src enumerate.Source, o options) *Stream {
	s := &Stream{
		dir:           dir,
		src:           src,
		opener:        o.opener,
		clock:         o.clock,
		sourceModTime: o.sourceModTime,
		metrics:       o.metrics,
		phase:         selectNext{},
		started:       time.Now(),
	}
	s.metrics.RecordStreamStart(dir, src.Len())
	return s
}

// Next returns the next chunk of the archive. It returns io.EOF once the
// trailer has been emitted, and the same error forever after a failure.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := s.Step(ctx)
		if err != nil || chunk != nil {
			return chunk, err
		}
	}
}

// Step advances the stream by one unit of work. A nil chunk with a nil
// error means progress was made without output.
func (s *Stream) Step(ctx context.Context) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.phase == nil {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(err)
	}

	chunk, err := s.advance()
	if err != nil {
		return nil, s.fail(err)
	}
	if chunk != nil {
		s.emitted += int64(len(chunk))
		s.metrics.RecordChunk(len(chunk))
	}
	return chunk, nil
}

// Err returns the error that terminated the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the open file, if any. The stream is unusable afterwards.
func (s *Stream) Close() error {
	if s.phase == nil {
		return nil
	}
	var err error
	if f := openFile(s.phase); f != nil {
		err = f.Close()
	}
	log.Debug().Str("dir", s.dir).Str("phase", s.phase.String()).Msg("stream closed early")
	s.metrics.RecordStreamEnd(ErrClosed, "closed", time.Since(s.started))
	s.phase = nil
	s.err = ErrClosed
	return err
}

func (s *Stream) advance() ([]byte, error) {
	switch p := s.phase.(type) {
	case selectNext:
		entry, ok := s.src.Next()
		if !ok {
			s.phase = trailer{}
			return nil, nil
		}
		s.phase = opening{entry: entry}
		return nil, nil

	case opening:
		f, err := s.opener.Open(p.entry.Path)
		if err != nil {
			return nil, common.NewStreamError(common.ErrOpen, p.entry.Path, err)
		}
		log.Debug().Str("path", p.entry.Path).Msg("file opened")
		s.phase = fetchingMetadata{entry: p.entry, file: f}
		return nil, nil

	case fetchingMetadata:
		info, err := p.file.Stat()
		if err != nil {
			return nil, common.NewStreamError(common.ErrMetadata, p.entry.Path, err)
		}
		if !info.Mode().IsRegular() {
			// Replaced by something else since the listing was taken.
			p.file.Close()
			s.metrics.RecordSkip(p.entry.Path)
			s.phase = selectNext{}
			return nil, nil
		}
		s.phase = headerReady{entry: p.entry, file: p.file, info: info}
		return nil, nil

	case headerReady:
		return s.emitHeader(p)

	case sending:
		return s.send(p)

	case trailer:
		return s.emitTrailer(p), nil
	}
	return nil, errors.New("tarstream: unknown phase")
}

func (s *Stream) emitHeader(p headerReady) ([]byte, error) {
	mtime := s.clock()
	if s.sourceModTime {
		mtime = p.info.ModTime()
	}

	size := p.info.Size()
	hdr, err := header.Build(p.entry.Name, size, mtime)
	if err != nil {
		kind := common.ErrEncoding
		if errors.Is(err, common.ErrClock) {
			kind = common.ErrClock
		} else if !errors.Is(err, common.ErrEncoding) {
			kind = common.ErrMetadata
		}
		return nil, common.NewStreamError(kind, p.entry.Path, err)
	}

	s.hdr = hdr
	s.pos = 0
	s.files++
	s.phase = sending{
		entry:     p.entry,
		file:      p.file,
		size:      size,
		remaining: size,
		started:   time.Now(),
	}

	log.Debug().Str("name", p.entry.Name).Int64("size", size).Msg("header emitted")
	return s.hdr[:], nil
}

// send performs one read into the chunk buffer. A full buffer is emitted as
// is; at end of file the staged bytes are zero-padded to a block boundary.
func (s *Stream) send(p sending) ([]byte, error) {
	if !p.eof && p.remaining == 0 {
		p.eof = true
	}

	if !p.eof {
		limit := min(int64(len(s.buf)-s.pos), p.remaining)
		n, err := p.file.Read(s.buf[s.pos : s.pos+int(limit)])
		s.pos += n
		p.remaining -= int64(n)
		s.phase = p

		switch {
		case err == io.EOF:
			p.eof = true
			s.phase = p
		case err != nil:
			return nil, common.NewStreamError(common.ErrRead, p.entry.Path, err)
		case n == 0:
			s.emptyReads++
			if s.emptyReads >= maxEmptyReads {
				return nil, common.NewStreamError(common.ErrRead, p.entry.Path, io.ErrNoProgress)
			}
			return nil, nil
		}
		s.emptyReads = 0

		if s.pos == len(s.buf) {
			s.pos = 0
			return s.buf[:], nil
		}
		if !p.eof {
			return nil, nil
		}
	}

	if p.remaining > 0 {
		s.phase = p
		return nil, common.NewStreamError(common.ErrRead, p.entry.Path, common.ErrSizeChanged)
	}

	s.phase = selectNext{}
	if err := p.file.Close(); err != nil {
		return nil, common.NewStreamError(common.ErrRead, p.entry.Path, err)
	}
	s.metrics.RecordFile(p.entry.Name, p.size, common.PaddedSize(p.size)-p.size, time.Since(p.started))

	if s.pos == 0 {
		return nil, nil
	}
	padded := int(common.PaddedSize(int64(s.pos)))
	clear(s.buf[s.pos:padded])
	s.pos = 0
	return s.buf[:padded], nil
}

// emitTrailer reuses the head of the chunk buffer, which is free once the
// last file has been flushed.
func (s *Stream) emitTrailer(p trailer) []byte {
	block := s.buf[:common.BlockSize]
	clear(block)

	if p.block+1 < 2 {
		s.phase = trailer{block: p.block + 1}
		return block
	}

	s.phase = nil
	elapsed := time.Since(s.started)
	s.metrics.RecordStreamEnd(nil, "", elapsed)
	log.Info().
		Str("dir", s.dir).
		Int("files", s.files).
		Int64("bytes", s.emitted+common.BlockSize).
		Dur("duration", elapsed).
		Msg("archive stream complete")
	return block
}

// fail terminates the stream with err, releasing any open file.
func (s *Stream) fail(err error) error {
	if f := openFile(s.phase); f != nil {
		f.Close()
	}
	s.phase = nil
	s.err = err

	kind := kindOf(err)
	s.metrics.RecordStreamEnd(err, kind, time.Since(s.started))
	log.Error().Err(err).Str("dir", s.dir).Str("kind", kind).Msg("archive stream failed")
	return err
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, common.ErrEnumeration):
		return "enumeration"
	case errors.Is(err, common.ErrOpen):
		return "open"
	case errors.Is(err, common.ErrMetadata):
		return "metadata"
	case errors.Is(err, common.ErrRead):
		return "read"
	case errors.Is(err, common.ErrEncoding):
		return "encoding"
	case errors.Is(err, common.ErrClock):
		return "clock"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
