package tarstream

import (
	"io/fs"
	"time"

	"github.com/beam-cloud/tarstream/pkg/common"
)

// phase is the stream's current position. Each variant holds exactly what
// is needed to resume; a nil phase means the stream has terminated.
type phase interface {
	String() string
}

// selectNext pops the next entry from the source.
type selectNext struct{}

// opening opens entry.
type opening struct {
	entry common.FileEntry
}

// fetchingMetadata stats the open file.
type fetchingMetadata struct {
	entry common.FileEntry
	file  fs.File
}

// headerReady encodes and emits the header block.
type headerReady struct {
	entry common.FileEntry
	file  fs.File
	info  fs.FileInfo
}

// sending moves file content through the chunk buffer.
type sending struct {
	entry     common.FileEntry
	file      fs.File
	size      int64
	remaining int64
	eof       bool
	started   time.Time
}

// trailer emits the closing zero blocks, block counts those already sent.
type trailer struct {
	block int
}

func (selectNext) String() string       { return "select-next" }
func (opening) String() string          { return "opening" }
func (fetchingMetadata) String() string { return "fetching-metadata" }
func (headerReady) String() string      { return "header-ready" }
func (sending) String() string          { return "sending" }
func (trailer) String() string          { return "trailer" }

// openFile returns the handle a phase owns, if any.
func openFile(p phase) fs.File {
	switch p := p.(type) {
	case fetchingMetadata:
		return p.file
	case headerReady:
		return p.file
	case sending:
		return p.file
	}
	return nil
}
