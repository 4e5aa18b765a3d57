package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileSink writes the archive next to its destination and renames it into
// place once complete. A persistent "<path>.lock" file keeps two writers off
// the same path.
type FileSink struct {
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Location() string {
	return s.path
}

func (s *FileSink) Store(ctx context.Context, archive Archive) (*Result, error) {
	lockFilePath := fmt.Sprintf("%s.lock", s.path)
	fileLock := flock.New(lockFilePath)

	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock <%s>: %w", lockFilePath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another process is already writing <%s>", s.path)
	}
	// The lock file stays behind. Unlinking it would let a waiter holding the
	// old inode and a newcomer creating a fresh one both acquire a lock.
	defer fileLock.Unlock()

	tmpPath := fmt.Sprintf("%s.%s", s.path, uuid.New().String()[:6])
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create <%s>: %w", tmpPath, err)
	}

	startTime := time.Now()
	tally := NewTally()
	_, err = archive.Copy(ctx, io.MultiWriter(f, tally))
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to move archive to <%s>: %w", s.path, err)
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}

	log.Info().
		Str("path", abs).
		Int64("size", tally.Size()).
		Dur("duration", time.Since(startTime)).
		Msg("archive written")
	return tally.result(abs), nil
}

// WriterSink streams the archive to an arbitrary writer, such as stdout.
type WriterSink struct {
	w    io.Writer
	name string
}

func NewWriterSink(w io.Writer, name string) *WriterSink {
	return &WriterSink{w: w, name: name}
}

func (s *WriterSink) Location() string {
	return s.name
}

func (s *WriterSink) Store(ctx context.Context, archive Archive) (*Result, error) {
	tally := NewTally()
	if _, err := archive.Copy(ctx, io.MultiWriter(s.w, tally)); err != nil {
		return nil, err
	}
	return tally.result(s.name), nil
}
