package common

import (
	"errors"
	"fmt"
)

var (
	ErrEnumeration = errors.New("cannot enumerate directory")
	ErrOpen        = errors.New("cannot open file")
	ErrMetadata    = errors.New("cannot read file metadata")
	ErrRead        = errors.New("cannot read file content")
	ErrEncoding    = errors.New("file name cannot be represented in header")
	ErrClock       = errors.New("archive clock cannot be represented in header")
	ErrSizeChanged = errors.New("file size changed during archive creation")
)

// StreamError records the failing stage, the path it failed on and the
// underlying cause. It unwraps to both Kind and Err.
type StreamError struct {
	Kind error
	Path string
	Err  error
}

func NewStreamError(kind error, path string, err error) *StreamError {
	return &StreamError{Kind: kind, Path: path, Err: err}
}

func (e *StreamError) Error() string {
	switch {
	case e.Err != nil && errors.Is(e.Err, e.Kind) && e.Path == "":
		return e.Err.Error()
	case e.Err != nil && errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	case e.Path == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v %s: %v", e.Kind, e.Path, e.Err)
}

func (e *StreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
