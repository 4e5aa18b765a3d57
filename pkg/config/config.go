// Package config loads tarctl settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beam-cloud/tarstream/pkg/common"
)

// Config is the full set of settings for one archive run. Precedence is
// flags over environment over file over defaults.
type Config struct {
	// Source is the directory whose top-level regular files are archived.
	Source string `yaml:"source"`

	// Sink picks the destination. When empty it is inferred from which
	// destination fields are set, falling back to stdout.
	Sink common.StreamMode `yaml:"sink"`

	// Output is the archive path for the local sink.
	Output string `yaml:"output"`

	S3 common.S3StorageInfo `yaml:"s3"`

	// OCILayout is a directory holding an OCI image layout; Tag names the
	// image inside it.
	OCILayout string `yaml:"oci_layout"`
	Tag       string `yaml:"tag"`

	// Image is a registry reference for the registry sink.
	Image string `yaml:"image"`

	// SourceModTime stamps entries with each file's mtime instead of the
	// archive time.
	SourceModTime bool `yaml:"source_mod_time"`

	LogLevel string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Tag:      "latest",
		LogLevel: "info",
	}
}

// Load reads path (if non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config <%s>: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config <%s>: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from TARSTREAM_* and the standard AWS variables.
func (c *Config) ApplyEnv() error {
	c.Source = getEnvString("TARSTREAM_SOURCE", c.Source)
	c.Sink = common.StreamMode(getEnvString("TARSTREAM_SINK", string(c.Sink)))
	c.Output = getEnvString("TARSTREAM_OUTPUT", c.Output)
	c.OCILayout = getEnvString("TARSTREAM_OCI_LAYOUT", c.OCILayout)
	c.Tag = getEnvString("TARSTREAM_TAG", c.Tag)
	c.Image = getEnvString("TARSTREAM_IMAGE", c.Image)
	c.LogLevel = getEnvString("TARSTREAM_LOG_LEVEL", c.LogLevel)

	c.S3.Bucket = getEnvString("TARSTREAM_S3_BUCKET", c.S3.Bucket)
	c.S3.Key = getEnvString("TARSTREAM_S3_KEY", c.S3.Key)
	c.S3.Endpoint = getEnvString("TARSTREAM_S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Region = getEnvString("AWS_REGION", c.S3.Region)
	c.S3.AccessKey = getEnvString("AWS_ACCESS_KEY_ID", c.S3.AccessKey)
	c.S3.SecretKey = getEnvString("AWS_SECRET_ACCESS_KEY", c.S3.SecretKey)

	var err error
	if c.S3.ForcePathStyle, err = getEnvBool("TARSTREAM_S3_FORCE_PATH_STYLE", c.S3.ForcePathStyle); err != nil {
		return err
	}
	if c.SourceModTime, err = getEnvBool("TARSTREAM_SOURCE_MOD_TIME", c.SourceModTime); err != nil {
		return err
	}
	return nil
}

// Mode returns the sink to use, inferring it when Sink is unset.
func (c *Config) Mode() common.StreamMode {
	if c.Sink != "" {
		return c.Sink
	}
	switch {
	case c.S3.Bucket != "":
		return common.StreamModeS3
	case c.OCILayout != "":
		return common.StreamModeOCILayout
	case c.Image != "":
		return common.StreamModeRegistry
	case c.Output != "":
		return common.StreamModeLocal
	}
	return common.StreamModeStdout
}

var logLevels = []string{"debug", "info", "warn", "warning", "error", "disabled", "none", "off"}

// Validate reports every missing or inconsistent field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Source == "" {
		errs = append(errs, errors.New("source directory is required"))
	}

	switch c.Mode() {
	case common.StreamModeStdout:
	case common.StreamModeLocal:
		if c.Output == "" {
			errs = append(errs, errors.New("output path is required for the local sink"))
		}
	case common.StreamModeS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required"))
		}
		if c.S3.Key == "" {
			errs = append(errs, errors.New("s3 key is required"))
		}
	case common.StreamModeOCILayout:
		if c.OCILayout == "" {
			errs = append(errs, errors.New("oci layout path is required"))
		}
	case common.StreamModeRegistry:
		if c.Image == "" {
			errs = append(errs, errors.New("image reference is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink))
	}

	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
	return parsed, nil
}
