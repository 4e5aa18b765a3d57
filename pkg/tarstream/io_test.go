package tarstream

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/tarstream/pkg/common"
)

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func TestReaderMatchesCopy(t *testing.T) {
	files := map[string][]byte{
		"a.bin": generateRandomContent(common.BufferSize + 3),
		"b.txt": []byte("bee"),
	}
	dir := writeFiles(t, files)

	var want bytes.Buffer
	_, err := newTestStream(t, dir, WithClock(fixedClock)).Copy(context.Background(), &want)
	require.NoError(t, err)

	// Small reads leave part of each chunk pending.
	r := newTestStream(t, dir, WithClock(fixedClock)).Reader(context.Background())
	var got bytes.Buffer
	buf := make([]byte, 100)
	for {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	assert.Equal(t, want.Bytes(), got.Bytes())

	r = newTestStream(t, dir, WithClock(fixedClock)).Reader(context.Background())
	got.Reset()
	_, err = io.Copy(&got, r)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestReaderWriteToAfterPartialRead(t *testing.T) {
	dir := writeFiles(t, map[string][]byte{"f": []byte("content")})

	r := newTestStream(t, dir).Reader(context.Background())
	head := make([]byte, 10)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)

	var rest bytes.Buffer
	n, err := r.WriteTo(&rest)
	require.NoError(t, err)
	assert.Equal(t, int64(4*common.BlockSize-10), n)

	hdr, err := tar.NewReader(io.MultiReader(bytes.NewReader(head), &rest)).Next()
	require.NoError(t, err)
	assert.Equal(t, "f", hdr.Name)
}

func TestReaderSurfacesStreamError(t *testing.T) {
	fsys := newFakeFS()
	fsys.add("f", []byte("data")).readErr = errors.New("disk gone")

	_, err := io.ReadAll(fsys.stream("f").Reader(context.Background()))
	assert.ErrorIs(t, err, common.ErrRead)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestCopyShortWrite(t *testing.T) {
	_, err := newTestStream(t, t.TempDir()).Copy(context.Background(), shortWriter{})
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestAllYieldsChunksThenStops(t *testing.T) {
	dir := writeFiles(t, map[string][]byte{"x": []byte("x")})

	var total int
	for chunk, err := range newTestStream(t, dir).All(context.Background()) {
		require.NoError(t, err)
		total += len(chunk)
	}
	assert.Equal(t, 4*common.BlockSize, total)

	fsys := newFakeFS()
	fsys.add("f", nil).statErr = errors.New("stat failed")
	var errs []error
	for chunk, err := range fsys.stream("f").All(context.Background()) {
		assert.Nil(t, chunk)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], common.ErrMetadata)
}

func TestSetLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", "debug", zerolog.DebugLevel, false},
		{"info", "info", zerolog.InfoLevel, false},
		{"warning", "warning", zerolog.WarnLevel, false},
		{"error", "error", zerolog.ErrorLevel, false},
		{"off", "off", zerolog.Disabled, false},
		{"case insensitive", "DEBUG", zerolog.DebugLevel, false},
		{"invalid", "verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SetLogLevel(tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}
