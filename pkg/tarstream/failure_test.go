package tarstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/beam-cloud/tarstream/pkg/common"
	"github.com/beam-cloud/tarstream/pkg/enumerate"
	"github.com/beam-cloud/tarstream/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return i.size }
func (i fakeInfo) Mode() fs.FileMode  { return i.mode }
func (i fakeInfo) ModTime() time.Time { return time.Unix(1600000000, 0) }
func (i fakeInfo) IsDir() bool        { return i.mode.IsDir() }
func (i fakeInfo) Sys() any           { return nil }

// fakeFile serves content but reports size as its declared length, which
// lets tests make the two disagree.
type fakeFile struct {
	info    fakeInfo
	content io.Reader
	statErr error
	readErr error
	stall   bool
	closed  int
}

func (f *fakeFile) Stat() (fs.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	return f.info, nil
}

func (f *fakeFile) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.stall {
		return 0, nil
	}
	return f.content.Read(p)
}

func (f *fakeFile) Close() error {
	f.closed++
	return nil
}

type fakeFS struct {
	files   map[string]*fakeFile
	openErr map[string]error
	opened  []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string]*fakeFile{}, openErr: map[string]error{}}
}

func (f *fakeFS) add(name string, content []byte) *fakeFile {
	file := &fakeFile{
		info:    fakeInfo{name: name, size: int64(len(content))},
		content: bytes.NewReader(content),
	}
	f.files[name] = file
	return file
}

func (f *fakeFS) Open(path string) (fs.File, error) {
	f.opened = append(f.opened, path)
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	file, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func (f *fakeFS) stream(names ...string) *Stream {
	var entries []common.FileEntry
	for _, n := range names {
		entries = append(entries, common.FileEntry{Path: n, Name: n})
	}
	return NewFromSource(enumerate.FromEntries(entries...), WithOpener(f), WithMetrics(metrics.NewMetrics()))
}

func TestStreamInjectedFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		setup      func(fsys *fakeFS)
		wantKind   error
		wantCause  error
		wantChunks []int
	}{
		{
			name: "open",
			setup: func(fsys *fakeFS) {
				fsys.add("b", []byte("bbb"))
				fsys.openErr["b"] = boom
			},
			wantKind:   common.ErrOpen,
			wantCause:  boom,
			wantChunks: []int{512, 512},
		},
		{
			name:       "missing file",
			setup:      func(fsys *fakeFS) {},
			wantKind:   common.ErrOpen,
			wantCause:  fs.ErrNotExist,
			wantChunks: []int{512, 512},
		},
		{
			name: "metadata",
			setup: func(fsys *fakeFS) {
				fsys.add("b", []byte("bbb")).statErr = boom
			},
			wantKind:   common.ErrMetadata,
			wantCause:  boom,
			wantChunks: []int{512, 512},
		},
		{
			name: "read",
			setup: func(fsys *fakeFS) {
				fsys.add("b", []byte("bbb")).readErr = boom
			},
			wantKind:   common.ErrRead,
			wantCause:  boom,
			wantChunks: []int{512, 512, 512},
		},
		{
			name: "file shrank",
			setup: func(fsys *fakeFS) {
				fsys.add("b", []byte("bbb")).info.size = 10
			},
			wantKind:   common.ErrRead,
			wantCause:  common.ErrSizeChanged,
			wantChunks: []int{512, 512, 512},
		},
		{
			name: "no progress",
			setup: func(fsys *fakeFS) {
				fsys.add("b", []byte("bbb")).stall = true
			},
			wantKind:   common.ErrRead,
			wantCause:  io.ErrNoProgress,
			wantChunks: []int{512, 512, 512},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := newFakeFS()
			fsys.add("a", []byte("first"))
			tt.setup(fsys)
			fsys.add("c", []byte("never"))

			s := fsys.stream("a", "b", "c")
			chunks, err := drain(t, s)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.ErrorIs(t, err, tt.wantCause)
			assert.Equal(t, tt.wantChunks, sizes(chunks))

			var se *common.StreamError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "b", se.Path)

			// Terminal: same error, no chunk, the later file is never touched.
			chunk, again := s.Next(context.Background())
			assert.Nil(t, chunk)
			assert.Equal(t, err, again)
			assert.NotContains(t, fsys.opened, "c")
			assert.Zero(t, fsys.files["c"].closed)

			if f, ok := fsys.files["b"]; ok && tt.wantKind != common.ErrOpen {
				assert.Equal(t, 1, f.closed, "failed file handle must be released")
			}
			assert.Equal(t, 1, fsys.files["a"].closed)
		})
	}
}

func TestStreamEncodingError(t *testing.T) {
	fsys := newFakeFS()
	long := strings.Repeat("x", common.NameSize+1)
	f := fsys.add(long, []byte("data"))

	chunks, err := drain(t, fsys.stream(long))
	assert.ErrorIs(t, err, common.ErrEncoding)
	assert.Empty(t, chunks)
	assert.Equal(t, 1, f.closed)
}

func TestStreamClockError(t *testing.T) {
	fsys := newFakeFS()
	fsys.add("a", []byte("data"))
	s := NewFromSource(
		enumerate.FromEntries(common.FileEntry{Path: "a", Name: "a"}),
		WithOpener(fsys),
		WithMetrics(metrics.NewMetrics()),
		WithClock(func() time.Time { return time.Unix(-10, 0) }),
	)

	_, err := drain(t, s)
	assert.ErrorIs(t, err, common.ErrClock)
}

func TestStreamGrowingFileIsTruncatedToHeaderSize(t *testing.T) {
	fsys := newFakeFS()
	f := fsys.add("grow", []byte("0123456789"))
	f.info.size = 4

	chunks, err := drain(t, fsys.stream("grow"))
	require.NoError(t, err)
	require.Equal(t, []int{512, 512, 512, 512}, sizes(chunks))
	assert.Equal(t, []byte("0123"), chunks[1][:4])
	assert.Equal(t, make([]byte, 508), chunks[1][4:])
}

func TestStreamSkipsEntryNoLongerRegular(t *testing.T) {
	fsys := newFakeFS()
	dir := fsys.add("d", nil)
	dir.info.mode = fs.ModeDir | 0755
	fsys.add("f", []byte("x"))

	chunks, err := drain(t, fsys.stream("d", "f"))
	require.NoError(t, err)
	assert.Equal(t, []int{512, 512, 512, 512}, sizes(chunks))
	assert.Equal(t, 1, dir.closed)
}

func TestStreamCloseReleasesOpenFile(t *testing.T) {
	fsys := newFakeFS()
	f := fsys.add("big", bytes.Repeat([]byte{7}, 3*common.BufferSize))
	s := fsys.stream("big")

	chunk, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, chunk, common.BlockSize)
	assert.Zero(t, f.closed)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, f.closed)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, f.closed)
}

func TestStreamBufferIsReused(t *testing.T) {
	fsys := newFakeFS()
	fsys.add("a", bytes.Repeat([]byte{1}, 2*common.BufferSize))
	s := fsys.stream("a")
	ctx := context.Background()

	_, err := s.Next(ctx) // header
	require.NoError(t, err)
	first, err := s.Next(ctx)
	require.NoError(t, err)
	second, err := s.Next(ctx)
	require.NoError(t, err)

	assert.Same(t, &first[0], &second[0])
	assert.Same(t, &s.buf[0], &first[0])
}
