package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/beam-cloud/tarstream/pkg/common"
)

// Archive is anything that can write a complete archive to a writer.
// *tarstream.Stream satisfies it.
type Archive interface {
	Copy(ctx context.Context, w io.Writer) (int64, error)
}

// Sink stores one archive.
type Sink interface {
	Store(ctx context.Context, archive Archive) (*Result, error)
	Location() string
}

// Result describes a stored archive.
type Result struct {
	Location string
	Size     int64
	Digest   string
}

type SinkCredentials struct {
	S3 *S3SinkCredentials
}

type SinkOpts struct {
	Mode        common.StreamMode
	OutputPath  string
	Writer      io.Writer
	StorageInfo *common.S3StorageInfo
	Credentials SinkCredentials
}

func New(ctx context.Context, opts SinkOpts) (Sink, error) {
	mode := opts.Mode
	if mode == "" {
		switch {
		case opts.StorageInfo != nil:
			mode = common.StreamModeS3
		case opts.OutputPath != "":
			mode = common.StreamModeLocal
		default:
			mode = common.StreamModeStdout
		}
	}

	switch mode {
	case common.StreamModeS3:
		if opts.StorageInfo == nil {
			return nil, errors.New("storage info not provided")
		}

		info := *opts.StorageInfo
		if opts.Credentials.S3 != nil {
			info.AccessKey = opts.Credentials.S3.AccessKey
			info.SecretKey = opts.Credentials.S3.SecretKey
		}

		return NewS3Sink(ctx, S3SinkOpts{
			Bucket:         info.Bucket,
			Region:         info.Region,
			Key:            info.Key,
			Endpoint:       info.Endpoint,
			ForcePathStyle: info.ForcePathStyle,
			DualStack:      info.DualStack,
			AccessKey:      info.AccessKey,
			SecretKey:      info.SecretKey,
		})
	case common.StreamModeLocal:
		if opts.OutputPath == "" {
			return nil, errors.New("output path not provided")
		}
		return NewFileSink(opts.OutputPath), nil
	case common.StreamModeStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stdout
		}
		return NewWriterSink(w, "stdout"), nil
	}

	return nil, errors.New("unsupported stream mode")
}
