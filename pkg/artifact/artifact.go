// Package artifact turns each version tag of a workspace into a published,
// integrity-checked tarball.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/xelpkg/registry/pkg/mirror"
	"github.com/xelpkg/registry/pkg/semver"
)

// Algorithm is the integrity hash algorithm recorded for every tarball.
const Algorithm = "sha256"

// Archiver writes the tree at a tag as a gzip-compressed tar stream.
type Archiver interface {
	Archive(tag string, w io.Writer) error
}

// Releaser publishes a release asset on the mirror host.
type Releaser interface {
	PublishRelease(ctx context.Context, repo *mirror.Repository, rel mirror.Release) (*mirror.Asset, error)
}

// Tarball describes one published artifact.
type Tarball struct {
	Tag       string
	URL       string
	Size      int64
	Algorithm string
	Hash      string
}

// TagError reports the tag whose artifact could not be produced.
type TagError struct {
	Tag string
	Err error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tarball for %s: %v", e.Tag, e.Err)
}

func (e *TagError) Unwrap() error { return e.Err }

// Generator archives, hashes and publishes tarballs.
type Generator struct {
	StagingDir string

	releaser Releaser
	logger   *slog.Logger
}

// NewGenerator creates a Generator that stages blobs in stagingDir (the
// system temp dir when empty).
func NewGenerator(stagingDir string, releaser Releaser, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	return &Generator{StagingDir: stagingDir, releaser: releaser, logger: logger}
}

// Generate produces one tarball per tag, strictly in the given order. The
// result is positionally aligned with tags. The first failure aborts the
// run; staged blobs are always removed.
func (g *Generator) Generate(ctx context.Context, src Archiver, repo *mirror.Repository, tags []string) ([]Tarball, error) {
	if err := os.MkdirAll(g.StagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	tarballs := make([]Tarball, 0, len(tags))
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return nil, &TagError{Tag: tag, Err: err}
		}
		tb, err := g.generateOne(ctx, src, repo, tag)
		if err != nil {
			return nil, &TagError{Tag: tag, Err: err}
		}
		g.logger.Info("published tarball", "tag", tag, "size", tb.Size, "url", tb.URL)
		tarballs = append(tarballs, *tb)
	}
	return tarballs, nil
}

func (g *Generator) generateOne(ctx context.Context, src Archiver, repo *mirror.Repository, tag string) (tb *Tarball, err error) {
	blob := filepath.Join(g.StagingDir, strings.ReplaceAll(uuid.New().String(), "-", "")+".tar.gz")
	defer func() {
		if rmErr := os.Remove(blob); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierror.Append(err, fmt.Errorf("remove staged blob: %w", rmErr)).ErrorOrNil()
		}
	}()

	size, hash, err := writeBlob(blob, func(w io.Writer) error { return src.Archive(tag, w) })
	if err != nil {
		return nil, err
	}

	asset, err := g.releaser.PublishRelease(ctx, repo, mirror.Release{
		Tag:        tag,
		Prerelease: semver.IsPrerelease(tag),
		AssetPath:  blob,
	})
	if err != nil {
		return nil, err
	}
	return &Tarball{Tag: tag, URL: asset.URL, Size: size, Algorithm: Algorithm, Hash: hash}, nil
}

// writeBlob writes the archive to path and returns its size and hex digest.
func writeBlob(path string, archive func(io.Writer) error) (int64, string, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("create blob: %w", err)
	}
	h := sha256.New()
	if err := archive(io.MultiWriter(f, h)); err != nil {
		f.Close()
		return 0, "", fmt.Errorf("archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", fmt.Errorf("close blob: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), hex.EncodeToString(h.Sum(nil)), nil
}
