// Package layer packages a directory archive as an OCI image layer.
package layer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/tarstream/pkg/tarstream"
)

// refNameAnnotation tags a manifest inside an OCI layout index.
const refNameAnnotation = "org.opencontainers.image.ref.name"

// New returns a layer whose content is the archive of dir. The layer is
// re-read each time its digest or content is needed, so every open builds a
// new stream with the same clock to keep the bytes identical.
func New(ctx context.Context, dir string, opts ...tarstream.Option) (v1.Layer, error) {
	now := time.Now()
	opts = append([]tarstream.Option{tarstream.WithClock(func() time.Time { return now })}, opts...)

	opener := func() (io.ReadCloser, error) {
		s, err := tarstream.New(ctx, dir, opts...)
		if err != nil {
			return nil, err
		}
		return s.Reader(ctx), nil
	}

	l, err := tarball.LayerFromOpener(opener, tarball.WithMediaType(types.OCILayer))
	if err != nil {
		return nil, fmt.Errorf("failed to create layer from <%s>: %w", dir, err)
	}
	return l, nil
}

// Image wraps a single layer in an otherwise empty OCI image.
func Image(l v1.Layer) (v1.Image, error) {
	img, err := mutate.AppendLayers(empty.Image, l)
	if err != nil {
		return nil, err
	}
	img = mutate.MediaType(img, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, types.OCIConfigJSON)
	return img, nil
}

// WriteLayout adds a single-layer image to the OCI layout at path, creating
// the layout if needed, and returns the manifest digest.
func WriteLayout(path, tag string, l v1.Layer) (v1.Hash, error) {
	img, err := Image(l)
	if err != nil {
		return v1.Hash{}, err
	}

	p, err := layout.FromPath(path)
	if err != nil {
		p, err = layout.Write(path, empty.Index)
		if err != nil {
			return v1.Hash{}, fmt.Errorf("failed to create layout <%s>: %w", path, err)
		}
	}

	var opts []layout.Option
	if tag != "" {
		opts = append(opts, layout.WithAnnotations(map[string]string{refNameAnnotation: tag}))
	}
	if err := p.AppendImage(img, opts...); err != nil {
		return v1.Hash{}, fmt.Errorf("failed to write image to layout <%s>: %w", path, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return v1.Hash{}, err
	}

	log.Info().Str("layout", path).Str("tag", tag).Str("digest", digest.String()).Msg("layer written to oci layout")
	return digest, nil
}

// Push uploads a single-layer image to ref. A nil keychain means
// authn.DefaultKeychain.
func Push(ctx context.Context, ref string, l v1.Layer, keychain authn.Keychain) (v1.Hash, error) {
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}

	parsed, err := name.ParseReference(ref)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("invalid image reference <%s>: %w", ref, err)
	}

	img, err := Image(l)
	if err != nil {
		return v1.Hash{}, err
	}

	startTime := time.Now()
	if err := remote.Write(parsed, img, remote.WithAuthFromKeychain(keychain), remote.WithContext(ctx)); err != nil {
		return v1.Hash{}, fmt.Errorf("failed to push <%s>: %w", ref, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return v1.Hash{}, err
	}

	log.Info().Str("ref", parsed.Name()).Str("digest", digest.String()).Dur("duration", time.Since(startTime)).Msg("layer pushed")
	return digest, nil
}
