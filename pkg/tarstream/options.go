package tarstream

import (
	"io/fs"
	"os"
	"time"

	"github.com/beam-cloud/tarstream/pkg/enumerate"
	"github.com/beam-cloud/tarstream/pkg/metrics"
)

// Opener opens the file behind a FileEntry path.
type Opener interface {
	Open(path string) (fs.File, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (fs.File, error)

func (f OpenerFunc) Open(path string) (fs.File, error) {
	return f(path)
}

type osOpener struct{}

func (osOpener) Open(path string) (fs.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	adviseSequential(f)
	return f, nil
}

type options struct {
	opener        Opener
	clock         func() time.Time
	sourceModTime bool
	metrics       *metrics.Metrics
	enumerate     []enumerate.Option
}

func defaultOptions() options {
	return options{
		opener:  osOpener{},
		clock:   time.Now,
		metrics: metrics.GlobalMetrics,
	}
}

type Option func(*options)

// WithOpener replaces the file system used to open entries.
func WithOpener(opener Opener) Option {
	return func(o *options) {
		if opener != nil {
			o.opener = opener
		}
	}
}

// WithClock sets the clock that stamps header modification times.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSourceModTime stamps headers with each file's own modification time
// instead of the time it was archived.
func WithSourceModTime() Option {
	return func(o *options) {
		o.sourceModTime = true
	}
}

// WithMetrics records into m instead of metrics.GlobalMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithFilter is passed through to the directory enumerator by New.
func WithFilter(keep enumerate.Filter) Option {
	return func(o *options) {
		o.enumerate = append(o.enumerate, enumerate.WithFilter(keep))
	}
}
