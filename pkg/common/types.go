package common

// FileEntry is one regular file selected for archiving. Path is used to open
// it, Name is what goes in the header.
type FileEntry struct {
	Path string
	Name string
}

type StreamMode string

const (
	StreamModeStdout StreamMode = "stdout"
	StreamModeLocal  StreamMode = "local"
	StreamModeS3     StreamMode = "s3"

	// Image sinks, handled by pkg/layer rather than pkg/storage.
	StreamModeOCILayout StreamMode = "oci-layout"
	StreamModeRegistry  StreamMode = "registry"
)

type S3StorageInfo struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Key            string `yaml:"key"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	DualStack      bool   `yaml:"dual_stack"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
}

func (s S3StorageInfo) Type() string {
	return string(StreamModeS3)
}
