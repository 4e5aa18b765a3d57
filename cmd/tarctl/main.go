package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/beam-cloud/tarstream/pkg/common"
	"github.com/beam-cloud/tarstream/pkg/config"
	"github.com/beam-cloud/tarstream/pkg/enumerate"
	"github.com/beam-cloud/tarstream/pkg/layer"
	"github.com/beam-cloud/tarstream/pkg/metrics"
	"github.com/beam-cloud/tarstream/pkg/storage"
	"github.com/beam-cloud/tarstream/pkg/tarstream"
)

func main() {
	// Logs go to stderr so stdout can carry the archive.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command := os.Args[1]; command {
	case "create":
		err = createCommand(ctx, os.Args[2:])
	case "list", "ls":
		err = listCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `tarctl - stream a directory as a tar archive

Usage:
  tarctl <command> [options]

Commands:
  create   Archive the top-level regular files of a directory
  list     Show the entries create would write, in order

Examples:
  # Write an archive to stdout
  tarctl create --source ./data > data.tar

  # Write an archive file
  tarctl create --source ./data --out /backups/data.tar

  # Stream straight to S3 without staging the archive on disk
  tarctl create --source ./data --s3-bucket backups --s3-key data.tar

  # Add the directory as a single-layer image to an OCI layout
  tarctl create --source ./data --oci-layout ./layout --tag v1

  # Push it as a single-layer image
  tarctl create --source ./data --image ghcr.io/acme/data:v1

Environment Variables:
  TARSTREAM_SOURCE, TARSTREAM_SINK, TARSTREAM_OUTPUT, TARSTREAM_LOG_LEVEL
  TARSTREAM_S3_BUCKET, TARSTREAM_S3_KEY, TARSTREAM_S3_ENDPOINT
  TARSTREAM_OCI_LAYOUT, TARSTREAM_TAG, TARSTREAM_IMAGE
  AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY

`)
}

// loadConfig layers flags that were explicitly set over the config file and
// environment.
func loadConfig(flagSet *pflag.FlagSet, args []string) (*config.Config, error) {
	configPath := flagSet.String("config", getEnvString("TARSTREAM_CONFIG", ""), "Path to a YAML config file")
	source := flagSet.String("source", "", "Directory to archive")
	sink := flagSet.String("sink", "", "Destination: stdout, local, s3, oci-layout, registry (inferred if unset)")
	output := flagSet.StringP("out", "o", "", "Archive output path")
	bucket := flagSet.String("s3-bucket", "", "S3 bucket")
	key := flagSet.String("s3-key", "", "S3 object key")
	region := flagSet.String("s3-region", "", "S3 region")
	endpoint := flagSet.String("s3-endpoint", "", "S3 endpoint override")
	pathStyle := flagSet.Bool("s3-path-style", false, "Use path-style S3 addressing")
	ociLayout := flagSet.String("oci-layout", "", "OCI image layout directory")
	tag := flagSet.String("tag", "", "Image tag inside the OCI layout")
	image := flagSet.String("image", "", "Registry reference to push to")
	sourceModTime := flagSet.Bool("source-mtime", false, "Keep each file's modification time instead of the archive time")
	logLevel := flagSet.String("log-level", "", "Log level: debug, info, warn, error, disabled")
	verbose := flagSet.BoolP("verbose", "v", false, "Verbose logging")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("source") {
		cfg.Source = *source
	} else if rest := flagSet.Args(); cfg.Source == "" && len(rest) > 0 {
		cfg.Source = rest[0]
	}
	if flagSet.Changed("sink") {
		cfg.Sink = common.StreamMode(*sink)
	}
	if flagSet.Changed("out") {
		cfg.Output = *output
	}
	if flagSet.Changed("s3-bucket") {
		cfg.S3.Bucket = *bucket
	}
	if flagSet.Changed("s3-key") {
		cfg.S3.Key = *key
	}
	if flagSet.Changed("s3-region") {
		cfg.S3.Region = *region
	}
	if flagSet.Changed("s3-endpoint") {
		cfg.S3.Endpoint = *endpoint
	}
	if flagSet.Changed("s3-path-style") {
		cfg.S3.ForcePathStyle = *pathStyle
	}
	if flagSet.Changed("oci-layout") {
		cfg.OCILayout = *ociLayout
	}
	if flagSet.Changed("tag") {
		cfg.Tag = *tag
	}
	if flagSet.Changed("image") {
		cfg.Image = *image
	}
	if flagSet.Changed("source-mtime") {
		cfg.SourceModTime = *sourceModTime
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := tarstream.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createCommand(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
	cfg, err := loadConfig(flagSet, args)
	if err != nil {
		return err
	}

	var opts []tarstream.Option
	if cfg.SourceModTime {
		opts = append(opts, tarstream.WithSourceModTime())
	}

	startTime := time.Now()
	mode := cfg.Mode()

	switch mode {
	case common.StreamModeOCILayout, common.StreamModeRegistry:
		l, err := layer.New(ctx, cfg.Source, opts...)
		if err != nil {
			return err
		}
		if mode == common.StreamModeOCILayout {
			_, err = layer.WriteLayout(cfg.OCILayout, cfg.Tag, l)
		} else {
			_, err = layer.Push(ctx, cfg.Image, l, nil)
		}
		if err != nil {
			return err
		}

	default:
		sinkOpts := storage.SinkOpts{
			Mode:       mode,
			OutputPath: cfg.Output,
		}
		if mode == common.StreamModeS3 {
			sinkOpts.StorageInfo = &cfg.S3
		}

		sink, err := storage.New(ctx, sinkOpts)
		if err != nil {
			return err
		}

		stream, err := tarstream.New(ctx, cfg.Source, opts...)
		if err != nil {
			return err
		}
		defer stream.Close()

		res, err := sink.Store(ctx, stream)
		if err != nil {
			return err
		}

		log.Info().
			Str("source", cfg.Source).
			Str("location", res.Location).
			Int64("size", res.Size).
			Str("digest", res.Digest).
			Msg("archive created")
	}

	log.Debug().Dur("duration", time.Since(startTime)).Msg("create finished")
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		metrics.LogMetricsSummary()
	}
	return nil
}

func listCommand(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	source := flagSet.String("source", "", "Directory to list")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	dir := *source
	if dir == "" && flagSet.NArg() > 0 {
		dir = flagSet.Arg(0)
	}
	if dir == "" {
		return errors.New("--source is required")
	}

	list, err := enumerate.Dir(ctx, dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	total := int64(common.TrailerSize)
	for _, entry := range list.Entries() {
		info, err := os.Lstat(entry.Path)
		if err != nil {
			return err
		}
		total += common.EntrySize(info.Size())
		fmt.Fprintf(w, "%s\t%d\n", entry.Name, info.Size())
	}
	fmt.Fprintf(w, "%d files\t%d bytes archived\n", list.Len(), total)

	log.Debug().Str("dir", filepath.Clean(dir)).Int("files", list.Len()).Msg("listed")
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
