package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/beam-cloud/tarstream/pkg/common"
)

type S3SinkCredentials struct {
	AccessKey string
	SecretKey string
}

type S3Sink struct {
	svc         *s3.Client
	bucket      string
	key         string
	partSize    int64
	concurrency int
}

type S3SinkOpts struct {
	Bucket         string
	Key            string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	DualStack      bool

	// Multipart tuning, zero means the uploader defaults.
	PartSize    int64
	Concurrency int

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

func NewS3Sink(ctx context.Context, opts S3SinkOpts) (*S3Sink, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if opts.AccessKey != "" && opts.SecretKey != "" {
		accessKey = opts.AccessKey
		secretKey = opts.SecretKey
	}

	cfg, err := getAWSConfig(ctx, accessKey, secretKey, opts)
	if err != nil {
		return nil, err
	}

	svc := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// Check to see if we have access to the bucket
	_, err = svc.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access bucket <%s>: %w", opts.Bucket, err)
	}

	return &S3Sink{
		svc:         svc,
		bucket:      opts.Bucket,
		key:         opts.Key,
		partSize:    opts.PartSize,
		concurrency: opts.Concurrency,
	}, nil
}

func getAWSConfig(ctx context.Context, accessKey, secretKey string, opts S3SinkOpts) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}

	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			})))
	}

	httpClient := &http.Client{}
	if opts.HTTPClient != nil {
		// Shallow copy, the caller's client keeps its own transport.
		c := *opts.HTTPClient
		httpClient = &c
	}
	if opts.DualStack {
		httpClient.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         common.DialContextIPv6,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		loadOpts = append(loadOpts, config.WithUseDualStackEndpoint(aws.DualStackEndpointStateEnabled))
	}
	loadOpts = append(loadOpts, config.WithHTTPClient(httpClient))

	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	return config.LoadDefaultConfig(ctx, loadOpts...)
}

func (s *S3Sink) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Store uploads the archive as it is produced. The stream feeds one end of
// a pipe while the multipart uploader drains the other, so the archive is
// never held in full.
func (s *S3Sink) Store(ctx context.Context, archive Archive) (*Result, error) {
	uploader := manager.NewUploader(s.svc, func(u *manager.Uploader) {
		if s.partSize > 0 {
			u.PartSize = s.partSize
		}
		if s.concurrency > 0 {
			u.Concurrency = s.concurrency
		}
	})

	startTime := time.Now()
	tally := NewTally()
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := archive.Copy(gctx, io.MultiWriter(pw, tally))
		pw.CloseWithError(err)
		return err
	})

	g.Go(func() error {
		_, err := uploader.Upload(gctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			Body:        pr,
			ContentType: aws.String("application/x-tar"),
		})
		if err != nil {
			err = fmt.Errorf("failed to upload archive: %w", err)
		}
		// Unblocks the producer if the upload stopped reading early.
		pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().
		Str("location", s.Location()).
		Int64("size", tally.Size()).
		Dur("duration", time.Since(startTime)).
		Msg("archive uploaded")
	return tally.result(s.Location()), nil
}
